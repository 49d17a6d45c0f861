package fakeapi

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"stockboard/internal/domain"
)

var (
	errDuplicate    = errors.New("duplicate sku")
	errInsufficient = errors.New("insufficient stock")
)

type productRow struct {
	ID          int    `db:"id"`
	SKU         string `db:"sku"`
	Name        string `db:"nome"`
	Description string `db:"descricao"`
	Quantity    int    `db:"quantidade_atual"`
	Threshold   int    `db:"ponto_ressuprimento"`
}

func (p productRow) product() domain.Product {
	return domain.Product{ID: p.ID, SKU: p.SKU, Name: p.Name, Description: p.Description, Quantity: p.Quantity, Threshold: p.Threshold}
}

type movementRow struct {
	ID        int    `db:"id"`
	SKU       string `db:"sku"`
	Name      string `db:"nome"`
	Direction string `db:"tipo"`
	Quantity  int    `db:"quantidade"`
	At        string `db:"data_hora"`
}

const productColumns = `id, sku, nome, descricao, quantidade_atual, ponto_ressuprimento`

type ProductRepo struct{ db *sqlx.DB }

func NewProductRepo(db *sqlx.DB) *ProductRepo { return &ProductRepo{db: db} }

func (r *ProductRepo) List() ([]productRow, error) {
	var out []productRow
	err := r.db.Select(&out, `SELECT `+productColumns+` FROM produtos ORDER BY id`)
	return out, err
}

// Get returns sql.ErrNoRows for an unknown sku.
func (r *ProductRepo) Get(sku string) (productRow, error) {
	return getProduct(r.db, sku)
}

func getProduct(q sqlx.Queryer, sku string) (productRow, error) {
	var p productRow
	err := sqlx.Get(q, &p, `SELECT `+productColumns+` FROM produtos WHERE sku = ?`, sku)
	return p, err
}

func (r *ProductRepo) Create(p productRow) (productRow, error) {
	_, err := r.db.Exec(`
	  INSERT INTO produtos(sku, nome, descricao, quantidade_atual, ponto_ressuprimento)
	  VALUES (?, ?, ?, ?, ?)
	`, p.SKU, p.Name, p.Description, p.Quantity, p.Threshold)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return productRow{}, errDuplicate
		}
		return productRow{}, err
	}
	return r.Get(p.SKU)
}

// Update never touches quantidade_atual; only movements change stock.
func (r *ProductRepo) Update(sku string, in domain.ProductUpdate) (productRow, error) {
	res, err := r.db.Exec(`UPDATE produtos SET nome = ?, descricao = ?, ponto_ressuprimento = ? WHERE sku = ?`,
		in.Name, in.Description, in.Threshold, sku)
	if err != nil {
		return productRow{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return productRow{}, sql.ErrNoRows
	}
	return r.Get(sku)
}

// Delete cascades to the product's movements.
func (r *ProductRepo) Delete(sku string) error {
	res, err := r.db.Exec(`DELETE FROM produtos WHERE sku = ?`, sku)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type MovementRepo struct{ db *sqlx.DB }

func NewMovementRepo(db *sqlx.DB) *MovementRepo { return &MovementRepo{db: db} }

// Record applies the movement and appends it to the history in one
// transaction. The returned product carries the new quantity; on
// errInsufficient it carries the unchanged one.
func (r *MovementRepo) Record(in domain.MovementInput, at string) (productRow, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return productRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := getProduct(tx, in.SKU)
	if err != nil {
		return productRow{}, err
	}
	if in.Direction == domain.DirectionOut {
		if p.Quantity < in.Quantity {
			return p, errInsufficient
		}
		p.Quantity -= in.Quantity
	} else {
		p.Quantity += in.Quantity
	}
	if _, err := tx.Exec(`UPDATE produtos SET quantidade_atual = ? WHERE id = ?`, p.Quantity, p.ID); err != nil {
		return productRow{}, err
	}
	if _, err := tx.Exec(`INSERT INTO movimentacoes(produto_id, tipo, quantidade, data_hora) VALUES (?, ?, ?, ?)`,
		p.ID, string(in.Direction), in.Quantity, at); err != nil {
		return productRow{}, err
	}
	return p, tx.Commit()
}

// History lists every movement, newest first.
func (r *MovementRepo) History() ([]movementRow, error) {
	var out []movementRow
	err := r.db.Select(&out, `
	  SELECT m.id, p.sku, p.nome, m.tipo, m.quantidade, m.data_hora
	  FROM movimentacoes m
	  JOIN produtos p ON p.id = m.produto_id
	  ORDER BY m.data_hora DESC, m.id DESC
	`)
	return out, err
}

// Outflow sums the saida quantities since the given time and reports the
// oldest one counted.
func (r *MovementRepo) Outflow(productID int, since string) (total int64, oldest string, err error) {
	var agg struct {
		Total  sql.NullInt64  `db:"total"`
		Oldest sql.NullString `db:"oldest"`
	}
	err = r.db.Get(&agg, `
	  SELECT SUM(quantidade) AS total, MIN(data_hora) AS oldest
	  FROM movimentacoes
	  WHERE produto_id = ? AND tipo = 'saida' AND data_hora >= ?
	`, productID, since)
	return agg.Total.Int64, agg.Oldest.String, err
}
