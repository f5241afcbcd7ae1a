package sync

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

func init() {

	// relativeRef turns an absolute _ref such as
	// https://rally1.rallydev.com/slm/webservice/v2.0/hierarchicalrequirement/123
	// into hierarchicalrequirement/123
	gjson.AddModifier("relativeRef", func(jsonStr, arg string) string {
		res := gjson.Parse(jsonStr)
		if !res.Exists() || res.Type != gjson.String {
			return ""
		}
		rel := relativeRef(res.String())
		if rel == "" {
			return ""
		}
		return quote(rel)
	})

	// objectID returns the trailing ObjectID of a _ref as a string.
	gjson.AddModifier("objectID", func(jsonStr, arg string) string {
		res := gjson.Parse(jsonStr)
		if !res.Exists() || res.Type != gjson.String {
			return ""
		}
		rel := relativeRef(res.String())
		i := strings.LastIndex(rel, "/")
		if i < 0 || i == len(rel)-1 {
			return ""
		}
		return quote(rel[i+1:])
	})

}

func relativeRef(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	p := u.Path
	if i := strings.Index(p, rallyWebservicePath+"/"); i >= 0 {
		p = p[i+len(rallyWebservicePath)+1:]
		// drop the version segment, e.g. v2.0
		if j := strings.Index(p, "/"); j >= 0 {
			p = p[j+1:]
		}
	}
	p = strings.TrimSuffix(p, ".js")
	return strings.Trim(p, "/")
}

func quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b)
}
