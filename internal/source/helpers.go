package source

import (
	"regexp"
	"strings"
)

var productionHostRe = regexp.MustCompile(`^(ap|task|cron|job|liftium|staging|deploy|auth|staging-(ap|task))-[sr]`)

// IsProductionHost reports whether a host name belongs to one of the production datacenters.
func IsProductionHost(host string) bool {
	return productionHostRe.MatchString(host)
}

// IsFromProductionHost reports whether an entry was logged in production.
// MediaWiki entries carry @fields.environment, Kubernetes ones the namespace.
// The host name is only consulted when an entry carries neither.
func IsFromProductionHost(e Entry) bool {
	env, hasEnv := e.StrOK("@fields.environment")
	namespace, hasNamespace := e.StrOK("kubernetes.namespace_name")

	switch {
	case hasEnv && (env == "prod" || env == "preview" || env == "verify"):
		return true
	case hasNamespace && namespace == "prod":
		return true
	case hasEnv || hasNamespace:
		return false
	}
	return IsProductionHost(e.Str("@source_host"))
}

var (
	sqlCommentRe      = regexp.MustCompile(`\s?/\*.+\*/`)
	sqlSingleQuotedRe = regexp.MustCompile(`'[^']+'`)
	sqlDoubleQuotedRe = regexp.MustCompile(`"[^"]+"`)
	sqlSpaceRe        = regexp.MustCompile(`\s+`)
	sqlNumberRe       = regexp.MustCompile(`-?[0-9]+`)
	sqlInListRe       = regexp.MustCompile(` IN\s*\([^)]+\)`)
	sqlMethodRe       = regexp.MustCompile(`/\*([^*]+)\*/`)
)

// GeneralizeSQL replaces the variable parts of an SQL query with X (strings)
// and N (numbers), after MediaWiki's DatabaseBase::generalizeSQL.
func GeneralizeSQL(sql string) string {
	sql = sqlCommentRe.ReplaceAllString(sql, "")

	sql = strings.ReplaceAll(sql, `\\`, "")
	sql = strings.ReplaceAll(sql, `\'`, "")
	sql = strings.ReplaceAll(sql, `\"`, "")
	sql = sqlSingleQuotedRe.ReplaceAllString(sql, "X")
	sql = sqlDoubleQuotedRe.ReplaceAllString(sql, "X")

	sql = sqlSpaceRe.ReplaceAllString(sql, " ")
	sql = sqlNumberRe.ReplaceAllString(sql, "N")

	// WHERE foo IN ('880987','882618')
	sql = sqlInListRe.ReplaceAllString(sql, " IN (XYZ)")

	return strings.TrimSpace(sql)
}

// MethodFromQuery returns the caller stored in the query comment:
// "SELECT /* Foo::Bar 10.0.0.1 */ 1" gives "Foo::Bar".
func MethodFromQuery(sql string) string {
	m := sqlMethodRe.FindStringSubmatch(sql)
	if m == nil {
		return ""
	}
	fields := strings.Fields(m[1])
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

var releasePathRe = regexp.MustCompile(`/usr/wikia/slot\d/\d+/src`)

// StripReleasePath removes the release-specific prefix from a source path.
func StripReleasePath(s string) string {
	return releasePathRe.ReplaceAllString(s, "")
}

// Backtrace formats the exception's file and trace frames as a Jira bullet
// list, skipping the first offset frames. It returns "n/a" when there is none.
func Backtrace(exception Entry, offset int) string {
	if exception == nil {
		return "n/a"
	}

	var frames []string
	if file := exception.Str("file"); file != "" {
		frames = append(frames, file)
	}
	frames = append(frames, exception.Strings("trace")...)

	if offset > 0 {
		if offset >= len(frames) {
			frames = nil
		} else {
			frames = frames[offset:]
		}
	}
	if len(frames) == 0 {
		return "n/a"
	}

	lines := make([]string, len(frames))
	for i, f := range frames {
		lines[i] = "* " + StripReleasePath(f)
	}
	return strings.Join(lines, "\n")
}
