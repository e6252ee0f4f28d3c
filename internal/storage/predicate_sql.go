package storage

import (
	"strings"

	"github.com/dshills/notesearch-mcp/internal/filter"
	"github.com/dshills/notesearch-mcp/pkg/types"
)

const (
	conceptJoin = `SELECT 1 FROM note_concepts nc JOIN concepts c ON c.id = nc.concept_id WHERE nc.note_id = n.id`
	tagScan     = `SELECT 1 FROM note_tags nt WHERE nt.note_id = n.id`
)

// predicateSQL renders pred as a sequence of " AND ..." conditions over the
// notes table aliased as n. A nil or empty predicate renders nothing.
func predicateSQL(pred *filter.Predicate) (string, []interface{}) {
	if pred.IsEmpty() {
		return "", nil
	}

	var sb strings.Builder
	var args []interface{}

	for _, clause := range pred.Clauses() {
		sb.WriteString(" AND ")

		switch clause.Kind {
		case filter.ClauseRequireConcept, filter.ClauseAnyConcept:
			cond, a := anyConceptSQL(clause.Concepts)
			sb.WriteString("EXISTS (" + conceptJoin + " AND " + cond + ")")
			args = append(args, a...)

		case filter.ClauseExcludeConcepts:
			cond, a := anyConceptSQL(clause.Concepts)
			sb.WriteString("NOT EXISTS (" + conceptJoin + " AND " + cond + ")")
			args = append(args, a...)

		case filter.ClauseSchemeIsolation:
			in, a := schemeList(clause.Schemes)
			sb.WriteString("EXISTS (" + conceptJoin + ")")
			sb.WriteString(" AND NOT EXISTS (" + conceptJoin + " AND c.scheme_id NOT IN (" + in + "))")
			args = append(args, a...)

		case filter.ClauseExcludeSchemes:
			in, a := schemeList(clause.Schemes)
			sb.WriteString("NOT EXISTS (" + conceptJoin + " AND c.scheme_id IN (" + in + "))")
			args = append(args, a...)

		case filter.ClauseRequireTag, filter.ClauseAnyTag:
			cond, a := anyNotationSQL("nt.tag_lower", clause.Notations)
			sb.WriteString("EXISTS (" + tagScan + " AND " + cond + ")")
			args = append(args, a...)

		case filter.ClauseExcludeTags:
			cond, a := anyNotationSQL("nt.tag_lower", clause.Notations)
			sb.WriteString("NOT EXISTS (" + tagScan + " AND " + cond + ")")
			args = append(args, a...)

		case filter.ClauseMinTagCount:
			sb.WriteString("(SELECT COUNT(*) FROM note_concepts nc WHERE nc.note_id = n.id) >= ?")
			args = append(args, clause.Count)

		case filter.ClauseTagged:
			sb.WriteString("EXISTS (SELECT 1 FROM note_concepts nc WHERE nc.note_id = n.id)")

		default:
			// ClauseMatchNone and anything unknown reject every row
			sb.WriteString("0")
		}
	}

	return sb.String(), args
}

// notationMatchSQL matches column against a lowercased notation or any
// notation below it. The descendant test is a byte range: every string with
// prefix "x/" sorts in ["x/", "x0") because '0' follows '/'.
func notationMatchSQL(column, lower string) (string, []interface{}) {
	cond := "(" + column + " = ? OR (" + column + " >= ? AND " + column + " < ?))"
	return cond, []interface{}{lower, lower + "/", lower + "0"}
}

func anyNotationSQL(column string, notations []string) (string, []interface{}) {
	if len(notations) == 0 {
		return "0", nil
	}
	conds := make([]string, len(notations))
	args := make([]interface{}, 0, 3*len(notations))
	for i, n := range notations {
		cond, a := notationMatchSQL(column, n)
		conds[i] = cond
		args = append(args, a...)
	}
	return "(" + strings.Join(conds, " OR ") + ")", args
}

// anyConceptSQL matches a concept row against the targets. Each target is
// confined to its own scheme.
func anyConceptSQL(targets []filter.ConceptTarget) (string, []interface{}) {
	if len(targets) == 0 {
		return "0", nil
	}
	conds := make([]string, len(targets))
	args := make([]interface{}, 0, 4*len(targets))
	for i, t := range targets {
		cond, a := notationMatchSQL("c.notation_lower", t.Notation)
		conds[i] = "(c.scheme_id = ? AND " + cond + ")"
		args = append(args, string(t.SchemeID))
		args = append(args, a...)
	}
	return "(" + strings.Join(conds, " OR ") + ")", args
}

func schemeList(schemes []types.SchemeID) (string, []interface{}) {
	placeholders := make([]string, len(schemes))
	args := make([]interface{}, len(schemes))
	for i, s := range schemes {
		placeholders[i] = "?"
		args[i] = string(s)
	}
	return strings.Join(placeholders, ","), args
}
