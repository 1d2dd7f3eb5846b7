package statements

import (
	"fmt"
	"strings"
	"time"

	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
	apperrors "graphsync/pkg/errors"
)

// Graph vocabulary shared by every rendered statement.
const (
	EntityLabel  = "User"
	RelationType = "CONNECTED_TO"

	PropName      = "name"
	PropRole      = "role"
	PropLocation  = "location"
	PropContact   = "website"
	PropCreatedAt = "createdAt"
	PropNote      = "note"

	// ParamCreatedAt is the parameter holding the shared epoch-millisecond
	// timestamp of a logical operation.
	ParamCreatedAt = "createdAt"
)

// OpKind identifies a structured graph operation.
type OpKind int

const (
	// OpRaw is caller-supplied text with no structured form.
	OpRaw OpKind = iota
	OpReadGraph
	OpMatchEntities
	OpMatchRelations
	OpCreateEntity
	OpMergeEntity
	OpCreateRelation
	OpMergeRelation
	OpCopyRelation
	OpSetAttributes
	OpRename
	OpDetachDelete
	OpSetRelationNote
	OpBackfillTimestamps
	OpEnsureEntity
)

var opNames = map[OpKind]string{
	OpRaw:                "raw",
	OpReadGraph:          "read_graph",
	OpMatchEntities:      "match_entities",
	OpMatchRelations:     "match_relations",
	OpCreateEntity:       "create_entity",
	OpMergeEntity:        "merge_entity",
	OpCreateRelation:     "create_relation",
	OpMergeRelation:      "merge_relation",
	OpCopyRelation:       "copy_relation",
	OpSetAttributes:      "set_attributes",
	OpRename:             "rename",
	OpDetachDelete:       "detach_delete",
	OpSetRelationNote:    "set_relation_note",
	OpBackfillTimestamps: "backfill_timestamps",
	OpEnsureEntity:       "ensure_entity",
}

func (k OpKind) String() string {
	if n, ok := opNames[k]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// IsWrite reports whether the operation changes the graph. Raw statements
// are treated as writes since their effect is unknown.
func (k OpKind) IsWrite() bool {
	switch k {
	case OpReadGraph, OpMatchEntities, OpMatchRelations:
		return false
	default:
		return true
	}
}

// Op is the structured form of a statement.
type Op struct {
	Kind OpKind
	// Name is the entity, or the relation source.
	Name string
	// Target is the relation target, or the new name for OpRename.
	Target     string
	Attributes entities.Attributes
	Note       string
	// CreatedAt is a preserved timestamp for OpCopyRelation; the shared
	// mutation timestamp is used when absent.
	CreatedAt valueobjects.Timestamp
}

// Statement is what a GraphStore executes: Cypher text with parameters,
// plus the structured op for stores that do not speak Cypher.
type Statement struct {
	Text   string
	Params map[string]any
	Op     Op
}

// CreatedAt returns the shared timestamp parameter, if bound.
func (s Statement) CreatedAt() valueobjects.Timestamp {
	return valueobjects.ParseTimestamp(s.Params[ParamCreatedAt])
}

// ReadGraph is the default read: every entity with its optional outgoing
// relations. A row with a null target is a standalone entity.
func ReadGraph() Statement {
	return Statement{
		Text: "MATCH (u:User) OPTIONAL MATCH (u)-[r:CONNECTED_TO]->(v:User) " +
			"RETURN u.name AS source, u.role AS sourceRole, u.location AS sourceLocation, " +
			"u.website AS sourceWebsite, u.createdAt AS sourceCreatedAt, " +
			"v.name AS target, v.role AS targetRole, v.location AS targetLocation, " +
			"v.website AS targetWebsite, v.createdAt AS targetCreatedAt, " +
			"r.createdAt AS createdAt, r.note AS note",
		Params: map[string]any{},
		Op:     Op{Kind: OpReadGraph},
	}
}

// MatchEntities returns every entity stored under exactly name.
func MatchEntities(name string) Statement {
	return Statement{
		Text: "MATCH (u:User {name: $name}) " +
			"RETURN u.name AS name, u.role AS role, u.location AS location, " +
			"u.website AS website, u.createdAt AS createdAt",
		Params: map[string]any{"name": name},
		Op:     Op{Kind: OpMatchEntities, Name: name},
	}
}

// MatchRelations returns every relation touching name, in either direction.
func MatchRelations(name string) Statement {
	return Statement{
		Text: "MATCH (s:User)-[r:CONNECTED_TO]->(t:User) WHERE s.name = $name OR t.name = $name " +
			"RETURN s.name AS source, t.name AS target, r.createdAt AS createdAt, r.note AS note",
		Params: map[string]any{"name": name},
		Op:     Op{Kind: OpMatchRelations, Name: name},
	}
}

// Raw wraps caller text. Mutations should go through RawMutation instead.
func Raw(text string) Statement {
	return Statement{Text: strings.TrimSpace(text), Params: map[string]any{}, Op: Op{Kind: OpRaw}}
}

// RawMutation binds one shared timestamp to a caller-supplied mutation and
// follows it with a backfill so that whatever it created carries that
// timestamp exactly once.
func RawMutation(text string, now time.Time) []Statement {
	ms := now.UnixMilli()
	raw := Raw(text)
	raw.Params[ParamCreatedAt] = ms
	backfill := render(Op{Kind: OpBackfillTimestamps})
	backfill.Params[ParamCreatedAt] = ms
	return []Statement{raw, backfill}
}

// BackfillTimestamps sets createdAt on every entity and relation that
// lacks one.
func BackfillTimestamps(now time.Time) Statement {
	st := render(Op{Kind: OpBackfillTimestamps})
	st.Params[ParamCreatedAt] = now.UnixMilli()
	return st
}

// Mutation is one logical write made of structured ops sharing a single
// creation timestamp.
type Mutation struct {
	ops       []Op
	createdAt valueobjects.Timestamp
}

// Ops returns a copy of the operations.
func (m Mutation) Ops() []Op {
	out := make([]Op, len(m.ops))
	copy(out, m.ops)
	return out
}

func (m Mutation) IsEmpty() bool { return len(m.ops) == 0 }

// Stamped reports whether a timestamp has been bound.
func (m Mutation) Stamped() bool { return m.createdAt.Valid() }

// CreatedAt returns the bound timestamp.
func (m Mutation) CreatedAt() valueobjects.Timestamp { return m.createdAt }

// Stamp binds now as the shared creation timestamp. A mutation that is
// already stamped is returned unchanged.
func (m Mutation) Stamp(now time.Time) Mutation {
	if m.Stamped() {
		return m
	}
	m.createdAt = valueobjects.FromMillis(now.UnixMilli())
	return m
}

// Statements renders every op. All of them share the same createdAt
// parameter; an unstamped mutation renders it as nil.
func (m Mutation) Statements() []Statement {
	var ts any
	if m.Stamped() {
		ts = m.createdAt.Millis()
	}
	out := make([]Statement, 0, len(m.ops))
	for _, op := range m.ops {
		st := render(op)
		st.Params[ParamCreatedAt] = ts
		out = append(out, st)
	}
	return out
}

// MutationBuilder accumulates ops for one Mutation.
type MutationBuilder struct {
	ops []Op
	err error
}

func NewMutationBuilder() *MutationBuilder {
	return &MutationBuilder{}
}

func (b *MutationBuilder) add(op Op) *MutationBuilder {
	if b.err != nil {
		return b
	}
	if strings.TrimSpace(op.Name) == "" {
		b.err = apperrors.NewValidationError(op.Kind.String() + ": name is required")
		return b
	}
	switch op.Kind {
	case OpCreateRelation, OpMergeRelation, OpCopyRelation, OpSetRelationNote, OpRename:
		if strings.TrimSpace(op.Target) == "" {
			b.err = apperrors.NewValidationError(op.Kind.String() + ": target is required")
			return b
		}
	}
	b.ops = append(b.ops, op)
	return b
}

// CreateEntity creates an entity with an inline attribute list.
func (b *MutationBuilder) CreateEntity(name string, attrs entities.Attributes) *MutationBuilder {
	return b.add(Op{Kind: OpCreateEntity, Name: name, Attributes: attrs})
}

// MergeEntity creates the entity if absent; on match it only fills empty
// attributes and a missing timestamp.
func (b *MutationBuilder) MergeEntity(name string, attrs entities.Attributes) *MutationBuilder {
	return b.add(Op{Kind: OpMergeEntity, Name: name, Attributes: attrs})
}

// EnsureEntity creates the entity if absent and leaves an existing one
// untouched.
func (b *MutationBuilder) EnsureEntity(name string, attrs entities.Attributes) *MutationBuilder {
	return b.add(Op{Kind: OpEnsureEntity, Name: name, Attributes: attrs})
}

// CreateRelation creates an unconditional relation.
func (b *MutationBuilder) CreateRelation(source, target string) *MutationBuilder {
	return b.add(Op{Kind: OpCreateRelation, Name: source, Target: target})
}

// MergeRelation creates the relation only if the pair is not yet linked.
func (b *MutationBuilder) MergeRelation(source, target string) *MutationBuilder {
	return b.add(Op{Kind: OpMergeRelation, Name: source, Target: target})
}

// CopyRelation merges a relation carrying a known timestamp and note.
func (b *MutationBuilder) CopyRelation(source, target string, createdAt valueobjects.Timestamp, note string) *MutationBuilder {
	return b.add(Op{Kind: OpCopyRelation, Name: source, Target: target, CreatedAt: createdAt, Note: note})
}

// SetAttributes overwrites all attributes of an entity.
func (b *MutationBuilder) SetAttributes(name string, attrs entities.Attributes) *MutationBuilder {
	return b.add(Op{Kind: OpSetAttributes, Name: name, Attributes: attrs})
}

// Rename changes the name of an entity in place.
func (b *MutationBuilder) Rename(from, to string) *MutationBuilder {
	return b.add(Op{Kind: OpRename, Name: from, Target: to})
}

// DetachDelete removes an entity with all its relations. It is only ever
// issued by the deduplicator.
func (b *MutationBuilder) DetachDelete(name string) *MutationBuilder {
	return b.add(Op{Kind: OpDetachDelete, Name: name})
}

// SetRelationNote replaces the note of an existing relation.
func (b *MutationBuilder) SetRelationNote(source, target, note string) *MutationBuilder {
	return b.add(Op{Kind: OpSetRelationNote, Name: source, Target: target, Note: note})
}

// Err returns the first validation error.
func (b *MutationBuilder) Err() error { return b.err }

// Build returns the unstamped mutation.
func (b *MutationBuilder) Build() (Mutation, error) {
	if b.err != nil {
		return Mutation{}, b.err
	}
	ops := make([]Op, len(b.ops))
	copy(ops, b.ops)
	return Mutation{ops: ops}, nil
}

const fillEmpty = "CASE WHEN coalesce(u.%[1]s, '') = '' THEN $%[1]s ELSE u.%[1]s END"

func render(op Op) Statement {
	p := map[string]any{}
	var text string

	attrParams := func() {
		p[PropRole] = op.Attributes.Role
		p[PropLocation] = op.Attributes.Location
		p[PropContact] = op.Attributes.Contact
	}

	switch op.Kind {
	case OpCreateEntity:
		p[PropName] = op.Name
		attrParams()
		text = "CREATE (u:User {name: $name, role: $role, location: $location, website: $website, createdAt: $createdAt})"

	case OpMergeEntity:
		p[PropName] = op.Name
		attrParams()
		text = "MERGE (u:User {name: $name}) " +
			"ON CREATE SET u.role = $role, u.location = $location, u.website = $website, u.createdAt = $createdAt " +
			"ON MATCH SET u.role = " + fmt.Sprintf(fillEmpty, PropRole) +
			", u.location = " + fmt.Sprintf(fillEmpty, PropLocation) +
			", u.website = " + fmt.Sprintf(fillEmpty, PropContact) +
			", u.createdAt = coalesce(u.createdAt, $createdAt)"

	case OpEnsureEntity:
		p[PropName] = op.Name
		attrParams()
		text = "MERGE (u:User {name: $name}) " +
			"ON CREATE SET u.role = $role, u.location = $location, u.website = $website, u.createdAt = $createdAt"

	case OpCreateRelation:
		p["source"], p["target"] = op.Name, op.Target
		text = "MATCH (a:User {name: $source}), (b:User {name: $target}) " +
			"CREATE (a)-[:CONNECTED_TO {createdAt: $createdAt}]->(b)"

	case OpMergeRelation:
		p["source"], p["target"] = op.Name, op.Target
		text = "MATCH (a:User {name: $source}), (b:User {name: $target}) " +
			"MERGE (a)-[r:CONNECTED_TO]->(b) ON CREATE SET r.createdAt = $createdAt"

	case OpCopyRelation:
		p["source"], p["target"] = op.Name, op.Target
		p[PropNote] = nullable(op.Note)
		var preserved any
		if op.CreatedAt.Valid() {
			preserved = op.CreatedAt.Millis()
		}
		p["relCreatedAt"] = preserved
		text = "MATCH (a:User {name: $source}), (b:User {name: $target}) " +
			"MERGE (a)-[r:CONNECTED_TO]->(b) " +
			"ON CREATE SET r.createdAt = coalesce($relCreatedAt, $createdAt), r.note = $note"

	case OpSetAttributes:
		p[PropName] = op.Name
		attrParams()
		text = "MATCH (u:User {name: $name}) SET u.role = $role, u.location = $location, u.website = $website"

	case OpRename:
		p[PropName], p["newName"] = op.Name, op.Target
		text = "MATCH (u:User {name: $name}) SET u.name = $newName"

	case OpDetachDelete:
		p[PropName] = op.Name
		text = "MATCH (u:User {name: $name}) DETACH DELETE u"

	case OpSetRelationNote:
		p["source"], p["target"] = op.Name, op.Target
		p[PropNote] = nullable(op.Note)
		text = "MATCH (:User {name: $source})-[r:CONNECTED_TO]->(:User {name: $target}) SET r.note = $note"

	case OpBackfillTimestamps:
		text = "MATCH (u:User) WHERE u.createdAt IS NULL SET u.createdAt = $createdAt " +
			"WITH count(u) AS entities " +
			"MATCH (:User)-[r:CONNECTED_TO]->(:User) WHERE r.createdAt IS NULL SET r.createdAt = $createdAt " +
			"RETURN entities, count(r) AS relations"
	}

	return Statement{Text: text, Params: p, Op: op}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
