package fetch

import (
	"net/url"
	"strconv"
	"strings"
)

// passthroughParams are the filter keys forwarded verbatim to the
// upstream search endpoint.
var passthroughParams = []string{
	"text", "area", "professional_role", "experience", "employment",
	"schedule", "salary", "only_with_salary", "order_by",
}

// normalizeFilterParams flattens a filter into upstream query
// parameters. Filters arrive either flat or as {id, name, params:{…}}
// from config/filters.json; the nested params win. per_page is pinned
// to the upstream maximum.
func normalizeFilterParams(filter map[string]interface{}, page, perPage int) url.Values {
	fp := filter
	if nested, ok := filter["params"].(map[string]interface{}); ok {
		fp = nested
	}

	values := url.Values{}
	values.Set("page", strconv.Itoa(page))
	values.Set("per_page", strconv.Itoa(perPage))

	for _, key := range passthroughParams {
		if v, ok := fp[key]; ok {
			addParam(values, key, v)
		}
	}

	// The upstream calls the lookback window search_period
	if v, ok := fp["period"]; ok && v != nil {
		addParam(values, "search_period", v)
	}
	if v, ok := fp["search_period"]; ok && v != nil {
		addParam(values, "search_period", v)
	}

	// search_field may be a single value or a list
	if v, ok := fp["search_field"]; ok {
		switch sf := v.(type) {
		case []interface{}:
			for _, item := range sf {
				addParam(values, "search_field", item)
			}
		case string:
			if s := strings.TrimSpace(sf); s != "" {
				values.Set("search_field", s)
			}
		}
	}

	return values
}

func addParam(values url.Values, key string, v interface{}) {
	if list, ok := v.([]interface{}); ok {
		for _, item := range list {
			if s := paramString(item); s != "" {
				values.Add(key, s)
			}
		}
		return
	}
	if s := paramString(v); s != "" {
		values.Set(key, s)
	}
}

// paramString renders a decoded JSON value as a query parameter.
func paramString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
