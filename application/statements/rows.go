package statements

import (
	"fmt"
	"regexp"
	"strings"

	"graphsync/domain/core/aggregates"
	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
)

// Row is one result record. Keys and Values are parallel.
type Row struct {
	Keys   []string
	Values []any
}

// NewRow builds a row from a column map; key order follows keys.
func NewRow(keys []string, values map[string]any) Row {
	r := Row{Keys: keys, Values: make([]any, len(keys))}
	for i, k := range keys {
		r.Values[i] = values[k]
	}
	return r
}

// Get returns the value of a named column.
func (r Row) Get(key string) (any, bool) {
	for i, k := range r.Keys {
		if k == key && i < len(r.Values) {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Index returns the value of a positional column.
func (r Row) Index(i int) (any, bool) {
	if i < 0 || i >= len(r.Values) {
		return nil, false
	}
	return r.Values[i], true
}

// String returns a named column as text; nil and missing columns are "".
func (r Row) String(key string) string {
	v, _ := r.Get(key)
	return toString(v)
}

// NodeValue is a structured node returned by a store.
type NodeValue struct {
	ID     string
	Labels []string
	Props  map[string]any
}

// ParseSnapshot turns result rows into a snapshot. Rows in the default read
// shape (source/target columns) are parsed directly; any other row is
// searched for node values, property maps and name columns.
func ParseSnapshot(rows []Row) *aggregates.Snapshot {
	var ents []entities.Entity
	var rels []entities.Relation

	for _, row := range rows {
		if source, ok := stringColumn(row, "source"); ok {
			if source == "" {
				continue
			}
			ents = append(ents, entityFromColumns(row, "source"))
			target, _ := stringColumn(row, "target")
			if target == "" {
				continue
			}
			ents = append(ents, entityFromColumns(row, "target"))
			rels = append(rels, relationFromRow(row, source, target))
			continue
		}
		ents = append(ents, fallbackEntities(row)...)
	}
	return aggregates.NewSnapshot(ents, rels)
}

// ParseEntities reads rows shaped like MatchEntities output.
func ParseEntities(rows []Row) []entities.Entity {
	out := make([]entities.Entity, 0, len(rows))
	for _, row := range rows {
		name := strings.TrimSpace(row.String("name"))
		if name == "" {
			continue
		}
		out = append(out, entities.Entity{
			Name: name,
			Attributes: entities.Attributes{
				Role:     row.String("role"),
				Location: row.String("location"),
				Contact:  row.String("website"),
			},
			CreatedAt: timestampColumn(row, "createdAt"),
		})
	}
	return out
}

// ParseRelations reads rows shaped like MatchRelations output.
func ParseRelations(rows []Row) []entities.Relation {
	out := make([]entities.Relation, 0, len(rows))
	for _, row := range rows {
		source := strings.TrimSpace(row.String("source"))
		target := strings.TrimSpace(row.String("target"))
		if source == "" || target == "" {
			continue
		}
		out = append(out, relationFromRow(row, source, target))
	}
	return out
}

var nameLiteral = regexp.MustCompile(`name:\s*['"]([^'"]+)['"]`)

// AffectedNames extracts the canonical entity names written as
// {name: '...'} literals, in order of first appearance.
func AffectedNames(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range nameLiteral.FindAllStringSubmatch(text, -1) {
		n := valueobjects.Canonicalize(m[1]).String()
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func entityFromColumns(row Row, prefix string) entities.Entity {
	name, _ := stringColumn(row, prefix)
	return entities.Entity{
		Name: name,
		Attributes: entities.Attributes{
			Role:     row.String(prefix + "Role"),
			Location: row.String(prefix + "Location"),
			Contact:  row.String(prefix + "Website"),
		},
		CreatedAt: timestampColumn(row, prefix+"CreatedAt"),
	}
}

func relationFromRow(row Row, source, target string) entities.Relation {
	return entities.Relation{
		Source:    source,
		Target:    target,
		CreatedAt: timestampColumn(row, "createdAt"),
		Note:      row.String("note"),
	}
}

func fallbackEntities(row Row) []entities.Entity {
	var out []entities.Entity
	for i, key := range row.Keys {
		v, _ := row.Index(i)
		switch val := v.(type) {
		case NodeValue:
			out = append(out, entityFromNode(val))
		case *NodeValue:
			if val != nil {
				out = append(out, entityFromNode(*val))
			}
		case map[string]any:
			if e, ok := entityFromMap(val); ok {
				out = append(out, e)
			}
		case string:
			if !strings.HasSuffix(strings.ToLower(key), "name") || strings.TrimSpace(val) == "" {
				continue
			}
			out = append(out, entities.Entity{
				Name: strings.TrimSpace(val),
				Attributes: entities.Attributes{
					Role:     row.String(siblingKey(key, "role")),
					Location: row.String(siblingKey(key, "location")),
					Contact:  row.String(siblingKey(key, "website")),
				},
				CreatedAt: timestampColumn(row, siblingKey(key, "createdAt")),
			})
		}
	}
	return out
}

// siblingKey maps a name column to its attribute column, keeping whatever
// prefix it has: u.name -> u.role, u_name -> u_role, sourceName -> sourceRole.
func siblingKey(key, attr string) string {
	i := strings.LastIndex(strings.ToLower(key), "name")
	if i < 0 {
		return attr
	}
	if i > 0 && key[i] == 'N' {
		attr = strings.ToUpper(attr[:1]) + attr[1:]
	}
	return key[:i] + attr
}

func entityFromNode(n NodeValue) entities.Entity {
	name := strings.TrimSpace(toString(n.Props[PropName]))
	if name == "" {
		name = "Node-" + n.ID
	}
	return entities.Entity{
		Name: name,
		Attributes: entities.Attributes{
			Role:     toString(n.Props[PropRole]),
			Location: toString(n.Props[PropLocation]),
			Contact:  toString(n.Props[PropContact]),
		},
		CreatedAt: valueobjects.ParseTimestamp(n.Props[PropCreatedAt]),
	}
}

func entityFromMap(m map[string]any) (entities.Entity, bool) {
	pick := func(key string) any {
		if v, ok := m[key]; ok && v != nil {
			return v
		}
		return m["u_"+key]
	}
	name := strings.TrimSpace(toString(pick(PropName)))
	if name == "" {
		return entities.Entity{}, false
	}
	return entities.Entity{
		Name: name,
		Attributes: entities.Attributes{
			Role:     toString(pick(PropRole)),
			Location: toString(pick(PropLocation)),
			Contact:  toString(pick(PropContact)),
		},
		CreatedAt: valueobjects.ParseTimestamp(pick(PropCreatedAt)),
	}, true
}

func stringColumn(row Row, key string) (string, bool) {
	v, ok := row.Get(key)
	if !ok {
		return "", false
	}
	if v == nil {
		return "", true
	}
	s, isString := v.(string)
	if !isString {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func timestampColumn(row Row, key string) valueobjects.Timestamp {
	v, _ := row.Get(key)
	return valueobjects.ParseTimestamp(v)
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
