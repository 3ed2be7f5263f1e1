package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/relabs-tech/restful/core/csql"
	"github.com/relabs-tech/restful/core/fields"
	"github.com/relabs-tech/restful/core/logger"
)

// NewPostgres returns a store keeping entities in postgres. Each kind gets a
// table with the columns id, create_date, write_date and a jsonb column
// properties holding all other fields. Unique fields get a unique index.
func NewPostgres(ctx context.Context, db *csql.DB, registry *fields.Registry) (*Engine, error) {
	p := &postgres{db: db, q: db.DB}
	for _, name := range registry.Kinds() {
		k, _ := registry.Kind(name)
		if err := p.createTable(ctx, k); err != nil {
			return nil, fmt.Errorf("cannot create table for %s: %w", name, err)
		}
	}
	return newEngine(registry, p), nil
}

// querier is implemented by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type postgres struct {
	db *csql.DB
	q  querier
}

func (p *postgres) begin(ctx context.Context) (transaction, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &postgresTx{postgres: &postgres{db: p.db, q: tx}, tx: tx}, nil
}

type postgresTx struct {
	*postgres
	tx *sql.Tx
}

func (t *postgresTx) commit() error {
	return t.tx.Commit()
}

func (t *postgresTx) rollback() error {
	return t.tx.Rollback()
}

func (p *postgres) createTable(ctx context.Context, k *fields.Kind) error {
	table := p.db.Table(k.Name)
	logger.Default().Debugln("create table", table)
	_, err := p.db.ExecContext(ctx, `CREATE table IF NOT EXISTS `+table+`
(id BIGSERIAL PRIMARY KEY,
create_date TIMESTAMPTZ NOT NULL DEFAULT now(),
write_date TIMESTAMPTZ NOT NULL DEFAULT now(),
properties JSONB NOT NULL DEFAULT '{}'::jsonb
);`)
	if err != nil {
		return err
	}
	for _, d := range k.Fields {
		if !d.Unique || d.ReadOnly {
			continue
		}
		index := pq.QuoteIdentifier(strings.ReplaceAll(k.Name, ".", "_") + "_" + d.Name + "_key")
		_, err := p.db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS `+index+` ON `+table+
			` ((properties->>`+pq.QuoteLiteral(d.Name)+`));`)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *postgres) encode(k *fields.Kind, values Values) (properties []byte, createDate, writeDate time.Time, err error) {
	props := map[string]interface{}{}
	for name, v := range values {
		switch name {
		case fields.FieldID:
			continue
		case fields.FieldCreateDate:
			createDate, _ = v.(time.Time)
			continue
		case fields.FieldWriteDate:
			writeDate, _ = v.(time.Time)
			continue
		}
		d, ok := k.Field(name)
		if !ok {
			continue
		}
		if t, ok := v.(time.Time); ok {
			v = t.Format(d.Type.Layout())
		}
		props[name] = v
	}
	properties, err = json.Marshal(props)
	return
}

func (p *postgres) decode(k *fields.Kind, properties []byte, createDate, writeDate time.Time) (Values, error) {
	var props map[string]interface{}
	if err := json.Unmarshal(properties, &props); err != nil {
		return nil, err
	}
	values := Values{
		fields.FieldCreateDate: createDate.UTC(),
		fields.FieldWriteDate:  writeDate.UTC(),
	}
	for name, v := range props {
		d, ok := k.Field(name)
		if !ok || v == nil {
			continue
		}
		switch d.Type {
		case fields.TypeInteger, fields.TypeRelationToOne:
			if f, ok := v.(float64); ok {
				v = int64(f)
			}
		case fields.TypeDate, fields.TypeDatetime:
			if s, ok := v.(string); ok {
				t, err := time.ParseInLocation(d.Type.Layout(), s, time.UTC)
				if err != nil {
					return nil, fmt.Errorf("corrupt %s.%s: %w", k.Name, name, err)
				}
				v = t
			}
		case fields.TypeRelationToManyOwned, fields.TypeRelationToManyShared:
			list, _ := v.([]interface{})
			ids := make([]int64, 0, len(list))
			for _, item := range list {
				if f, ok := item.(float64); ok {
					ids = append(ids, int64(f))
				}
			}
			v = ids
		}
		values[name] = v
	}
	return values, nil
}

func (p *postgres) insert(ctx context.Context, k *fields.Kind, values Values) (int64, error) {
	properties, createDate, writeDate, err := p.encode(k, values)
	if err != nil {
		return 0, err
	}
	var id int64
	err = p.q.QueryRowContext(ctx, `INSERT INTO `+p.db.Table(k.Name)+
		` (create_date,write_date,properties) VALUES($1,$2,$3) RETURNING id;`,
		createDate, writeDate, string(properties)).Scan(&id)
	return id, err
}

func (p *postgres) replace(ctx context.Context, k *fields.Kind, id int64, values Values) error {
	properties, _, writeDate, err := p.encode(k, values)
	if err != nil {
		return err
	}
	res, err := p.q.ExecContext(ctx, `UPDATE `+p.db.Table(k.Name)+
		` SET write_date=$2, properties=$3 WHERE id=$1;`, id, writeDate, string(properties))
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err == nil && count == 0 {
		return recordNotFound(k, id)
	}
	return err
}

func (p *postgres) fetch(ctx context.Context, k *fields.Kind, id int64) (Values, error) {
	var (
		createDate, writeDate time.Time
		properties            []byte
	)
	err := p.q.QueryRowContext(ctx, `SELECT create_date,write_date,properties FROM `+p.db.Table(k.Name)+
		` WHERE id=$1;`, id).Scan(&createDate, &writeDate, &properties)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p.decode(k, properties, createDate, writeDate)
}

func (p *postgres) remove(ctx context.Context, k *fields.Kind, id int64) error {
	_, err := p.q.ExecContext(ctx, `DELETE FROM `+p.db.Table(k.Name)+` WHERE id=$1;`, id)
	return err
}

func (p *postgres) find(ctx context.Context, k *fields.Kind, domain Domain, limit, offset int) ([]int64, error) {
	w := &where{kind: k}
	condition, err := w.build(domain)
	if err != nil {
		return nil, err
	}
	query := `SELECT id FROM ` + p.db.Table(k.Name) + ` WHERE ` + condition + ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(limit)
	}
	if offset > 0 {
		query += ` OFFSET ` + strconv.Itoa(offset)
	}
	rows, err := p.q.QueryContext(ctx, query+";", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// likeEscaper makes a keyword match literally inside a LIKE pattern
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// where translates a domain into a SQL condition with positional arguments
type where struct {
	kind *fields.Kind
	args []interface{}
}

func (w *where) arg(v interface{}) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

func (w *where) join(members []Domain, operator, empty string) (string, error) {
	if len(members) == 0 {
		return empty, nil
	}
	parts := make([]string, len(members))
	for i, m := range members {
		s, err := w.build(m)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, " "+operator+" ") + ")", nil
}

func (w *where) build(domain Domain) (string, error) {
	switch d := domain.(type) {
	case nil:
		return "TRUE", nil
	case And:
		return w.join(d, "AND", "TRUE")
	case Or:
		return w.join(d, "OR", "FALSE")
	case Not:
		s, err := w.build(d.Domain)
		if err != nil {
			return "", err
		}
		return "NOT " + s, nil
	case Condition:
		return w.condition(d)
	}
	return "", fmt.Errorf("unknown domain %T", domain)
}

func (w *where) condition(c Condition) (string, error) {
	d, ok := w.kind.Field(c.Field)
	if !ok {
		return "FALSE", nil
	}
	text := "properties->>" + pq.QuoteLiteral(d.Name)
	switch d.Name {
	case fields.FieldID, fields.FieldCreateDate, fields.FieldWriteDate:
		text = d.Name + "::text"
	}

	switch c.Operator {
	case "like", "ilike":
		operator := "LIKE"
		if c.Operator == "ilike" {
			operator = "ILIKE"
		}
		return text + " " + operator + " '%' || " + w.arg(likeEscaper.Replace(fmt.Sprint(c.Value))) + ` || '%' ESCAPE '\'`, nil
	case "in", "not in":
		list, _ := asList(c.Value)
		members := make([]Domain, len(list))
		for i, v := range list {
			if c.Operator == "in" {
				members[i] = Where(c.Field, "=", v)
			} else {
				members[i] = Where(c.Field, "!=", v)
			}
		}
		if c.Operator == "in" {
			return w.join(members, "OR", "FALSE")
		}
		return w.join(members, "AND", "TRUE")
	}

	if d.Type.IsToMany() {
		list := "properties->" + pq.QuoteLiteral(d.Name)
		if c.Value == nil || c.Value == false {
			empty := "COALESCE(jsonb_array_length(" + list + "),0)=0"
			if c.Operator == "!=" {
				return "NOT " + empty, nil
			}
			return empty, nil
		}
		id, err := toInt64(d, c.Value)
		if err != nil {
			return "", err
		}
		contains := "COALESCE(" + list + " @> " + w.arg("["+strconv.FormatInt(id, 10)+"]") + "::jsonb,FALSE)"
		switch c.Operator {
		case "=":
			return contains, nil
		case "!=":
			return "NOT " + contains, nil
		}
		return "FALSE", nil
	}

	value, err := normalize(d, c.Value)
	if err != nil {
		return "", err
	}
	column, arg := w.typed(d, value)
	switch c.Operator {
	case "=":
		if value == nil {
			return column + " IS NULL", nil
		}
		return column + "=" + arg, nil
	case "!=":
		if value == nil {
			return column + " IS NOT NULL", nil
		}
		return column + " IS DISTINCT FROM " + arg, nil
	case "<", "<=", ">", ">=":
		if value == nil {
			return "FALSE", nil
		}
		return column + c.Operator + arg, nil
	}
	return "", fmt.Errorf("unsupported operator '%s'", c.Operator)
}

// typed returns the typed column expression of a field and the argument placeholder
// for a canonical value. Dates and datetimes compare as fixed-width strings.
func (w *where) typed(d *fields.Descriptor, value interface{}) (string, string) {
	switch d.Name {
	case fields.FieldID, fields.FieldCreateDate, fields.FieldWriteDate:
		if value == nil {
			return d.Name, ""
		}
		return d.Name, w.arg(value)
	}
	field := pq.QuoteLiteral(d.Name)
	column := "properties->>" + field
	switch d.Type {
	case fields.TypeInteger, fields.TypeFloat, fields.TypeRelationToOne:
		column = "(" + column + ")::numeric"
	case fields.TypeBoolean:
		column = "(" + column + ")::boolean"
	case fields.TypeJSON:
		column = "properties->" + field
		if value != nil {
			data, _ := json.Marshal(value)
			return column, w.arg(string(data)) + "::jsonb"
		}
	}
	if value == nil {
		return column, ""
	}
	if t, ok := value.(time.Time); ok {
		value = t.Format(d.Type.Layout())
	}
	return column, w.arg(value)
}
