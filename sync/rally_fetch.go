package sync

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// RallyError holds the body of a non-2xx WSAPI response.
type RallyError map[string]interface{}

// QueryFilter is a single WSAPI query expression, e.g. (Name = "My Project").
type QueryFilter struct {
	Field    string
	Operator string
	Value    string
}

func (f QueryFilter) String() string {
	op := f.Operator
	if op == "" {
		op = "="
	}
	value := strings.ReplaceAll(f.Value, `\`, `\\`)
	value = strings.ReplaceAll(value, `"`, `\"`)
	return fmt.Sprintf(`(%s %s "%s")`, f.Field, op, value)
}

// QueryRequest describes a WSAPI collection query.
// Workspace and Project hold ObjectIDs; when empty the query is not scoped.
type QueryRequest struct {
	Type      string
	Fetch     []string
	Filter    QueryFilter
	Workspace string
	Project   string
	ScopeUp   bool
	ScopeDown bool
	PageSize  int
}

type QueryResult struct {
	TotalResultCount int
	Results          []Record
	Errors           []string
	Warnings         []string
}

// Matches returns the number of records matching the query, which may be
// larger than the number of records returned in this page.
func (q QueryResult) Matches() int {
	if q.TotalResultCount > len(q.Results) {
		return q.TotalResultCount
	}
	return len(q.Results)
}

// Source wraps a JSON object returned by Rally.
type Source struct {
	data gjson.Result
}

func NewSource(json string) Source {
	return Source{data: gjson.Parse(json)}
}

func (s Source) StringForPath(path string) (string, bool) {
	result := s.data.Get(path)
	return result.String(), result.Exists() && (result.Value() != nil)
}

func (s Source) IntForPath(path string) (int64, bool) {
	result := s.data.Get(path)
	return result.Int(), result.Exists() && (result.Value() != nil)
}

func (s Source) Raw() string {
	return s.data.Raw
}

// Record is a single work item, workspace or project fetched from Rally.
type Record struct {
	Source Source
}

func NewRecord(json string) Record {
	return Record{Source: NewSource(json)}
}

// Ref returns the record's _ref, the handle used to address it in updates.
func (r Record) Ref() string {
	s, _ := r.Source.StringForPath("_ref")
	return s
}

// RelativeRef returns the _ref without endpoint and version, e.g. hierarchicalrequirement/123.
func (r Record) RelativeRef() string {
	s, _ := r.Source.StringForPath("_ref|@relativeRef")
	return s
}

// ObjectID returns the numeric ObjectID as a string, falling back to the
// trailing segment of _ref when ObjectID was not fetched.
func (r Record) ObjectID() (string, bool) {
	if id, exists := r.Source.IntForPath("ObjectID"); exists {
		return fmt.Sprintf("%d", id), true
	}
	return r.Source.StringForPath("_ref|@objectID")
}

func (r Record) FormattedID() string {
	s, _ := r.Source.StringForPath("FormattedID")
	return s
}

func (r Record) ExternalID(field string) string {
	s, _ := r.Source.StringForPath(gjsonEscape(field))
	return s
}

// Describe returns a short label for log output.
func (r Record) Describe() string {
	if f := r.FormattedID(); f != "" {
		return f
	}
	if rel := r.RelativeRef(); rel != "" {
		return rel
	}
	return r.Ref()
}

func parseQueryResult(json string) QueryResult {
	qr := gjson.Get(json, "QueryResult")
	result := QueryResult{
		TotalResultCount: int(qr.Get("TotalResultCount").Int()),
		Errors:           stringsForResult(qr.Get("Errors")),
		Warnings:         stringsForResult(qr.Get("Warnings")),
	}
	for _, v := range qr.Get("Results").Array() {
		result.Results = append(result.Results, Record{Source: Source{data: v}})
	}
	return result
}

func stringsForResult(res gjson.Result) []string {
	var result []string
	for _, v := range res.Array() {
		result = append(result, v.String())
	}
	return result
}

// gjsonEscape escapes characters with special meaning in gjson paths.
func gjsonEscape(field string) string {
	var sb strings.Builder
	for _, c := range field {
		switch c {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			sb.WriteRune('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}
