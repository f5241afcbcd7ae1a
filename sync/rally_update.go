package sync

import (
	"fmt"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// UpdateRequest is a partial update of one record.
// Ref is relative to the webservice root, e.g. hierarchicalrequirement/123.
type UpdateRequest struct {
	Ref  string
	JSON string
}

// OperationResult is the body of a WSAPI create or update response.
type OperationResult struct {
	Object   *Record
	Errors   []string
	Warnings []string
}

// Updated reports whether Rally returned the updated object.
func (o OperationResult) Updated() bool {
	return o.Object != nil
}

func parseOperationResult(json string) OperationResult {
	or := gjson.Get(json, "OperationResult")
	result := OperationResult{
		Errors:   stringsForResult(or.Get("Errors")),
		Warnings: stringsForResult(or.Get("Warnings")),
	}
	if obj := or.Get("Object"); obj.IsObject() && len(obj.Map()) > 0 {
		result.Object = &Record{Source: Source{data: obj}}
	}
	return result
}

// UpdateEnvelope returns the key wrapping an update body for the given type
// path, e.g. "hierarchicalrequirement" -> "Hierarchicalrequirement" and
// "portfolioitem/feature" -> "Feature".
func UpdateEnvelope(typePath string) string {
	name := typePath
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strcase.ToCamel(name)
}

// BuildUpdateBody builds a single field update, e.g.
// {"Hierarchicalrequirement":{"PortfolioItem":"https://.../portfolioitem/feature/456"}}
func BuildUpdateBody(envelope, field, value string) (string, error) {
	if envelope == "" || field == "" {
		return "", fmt.Errorf("update body needs an envelope and a field, have %q and %q", envelope, field)
	}
	return sjson.Set("", gjsonEscape(envelope)+"."+gjsonEscape(field), value)
}
