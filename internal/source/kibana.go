package source

import (
	"fmt"
	"regexp"
	"strings"
)

// Environments an entry can be attributed to.
const (
	EnvProduction = "Production"
	EnvBackupDC   = "BackupDC"
	EnvPreview    = "Preview"
	EnvStaging    = "Staging"
)

// PreviewHost serves the preview environment.
const PreviewHost = "staging-s1"

// DefaultIndexPrefix is the log store index family used when a rule does not name its own.
const DefaultIndexPrefix = "logstash-other"

var backupDCHostRe = regexp.MustCompile(`-r\d+$`)

// EnvFromEntry tells which environment an entry was logged in.
func EnvFromEntry(e Entry) string {
	if e.Str("@fields.environment") == "staging" {
		return EnvStaging
	}

	host := e.Str("@source_host")
	switch {
	case host == PreviewHost:
		return EnvPreview
	case backupDCHostRe.MatchString(host):
		return EnvBackupDC
	}
	return EnvProduction
}

// URLFromEntry returns the requested URL of a MediaWiki entry, or "" when
// either the server or the path is missing.
func URLFromEntry(e Entry) string {
	server, path := e.Str("@fields.server"), e.Str("@fields.url")
	if server == "" || path == "" {
		return ""
	}
	return "http://" + server + path
}

// OrNA substitutes "n/a" for empty values in report templates.
func OrNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}

var defaultKibanaColumns = []string{"@timestamp", "@source_host", "@message"}

// KibanaURL builds a Kibana discover link for the last six hours of the given
// index family. Commas are dropped from the query since Kibana would split it
// into sub-queries.
func KibanaURL(base, indexPrefix, query string, columns []string) string {
	if len(columns) == 0 {
		columns = defaultKibanaColumns
	}
	if indexPrefix == "" {
		indexPrefix = DefaultIndexPrefix
	}
	index := indexPrefix
	if !strings.HasSuffix(index, "*") {
		index += "-*"
	}

	query = strings.ReplaceAll(query, ",", " ")
	query = strings.ReplaceAll(query, `\`, `\\`)

	return fmt.Sprintf(
		"%s/app/kibana#/discover?_g=(time:(from:now-6h,mode:quick,to:now))"+
			"&_a=(columns:!('%s'),index:'%s',query:(query_string:(analyze_wildcard:!t,query:'%s')),sort:!('@timestamp',desc))",
		strings.TrimRight(base, "/"), strings.Join(columns, "','"), index, quote(query),
	)
}

// quote percent-encodes everything except ASCII letters, digits and "_.-~/".
// url.QueryEscape and url.PathEscape both keep characters (":", "@", "+")
// that Kibana's rison parser needs encoded.
func quote(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			c == '_', c == '.', c == '-', c == '~', c == '/':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&15])
		}
	}
	return b.String()
}
