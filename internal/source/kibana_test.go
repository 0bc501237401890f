package source

import "testing"

const kibanaBase = "https://kibana5.wikia-inc.com"

func TestKibanaURL(t *testing.T) {
	const prefix = "https://kibana5.wikia-inc.com/app/kibana#/discover?_g=(time:(from:now-6h,mode:quick,to:now))&_a="

	tests := []struct {
		name    string
		index   string
		query   string
		columns []string
		want    string
	}{
		{
			name:  "plain",
			query: "foo",
			want:  prefix + "(columns:!('@timestamp','@source_host','@message'),index:'logstash-other-*',query:(query_string:(analyze_wildcard:!t,query:'foo')),sort:!('@timestamp',desc))",
		},
		{
			name:  "space",
			query: "foo bar",
			want:  prefix + "(columns:!('@timestamp','@source_host','@message'),index:'logstash-other-*',query:(query_string:(analyze_wildcard:!t,query:'foo%20bar')),sort:!('@timestamp',desc))",
		},
		{
			name:    "custom columns",
			query:   "foo",
			columns: []string{"@timestamp", "name"},
			want:    prefix + "(columns:!('@timestamp','name'),index:'logstash-other-*',query:(query_string:(analyze_wildcard:!t,query:'foo')),sort:!('@timestamp',desc))",
		},
		{
			name:  "escaped class name",
			query: `@exception.class: "Wikia\Security\Exception" AND @context.transaction: "foo/bar"`,
			want:  prefix + "(columns:!('@timestamp','@source_host','@message'),index:'logstash-other-*',query:(query_string:(analyze_wildcard:!t,query:'%40exception.class%3A%20%22Wikia%5C%5CSecurity%5C%5CException%22%20AND%20%40context.transaction%3A%20%22foo/bar%22')),sort:!('@timestamp',desc))",
		},
		{
			name:  "assertion class",
			query: `@exception.class: "Wikia\Util\AssertionException"`,
			want:  prefix + "(columns:!('@timestamp','@source_host','@message'),index:'logstash-other-*',query:(query_string:(analyze_wildcard:!t,query:'%40exception.class%3A%20%22Wikia%5C%5CUtil%5C%5CAssertionException%22')),sort:!('@timestamp',desc))",
		},
		{
			name:  "wildcard index",
			index: "logstash-*",
			query: "foo",
			want:  prefix + "(columns:!('@timestamp','@source_host','@message'),index:'logstash-*',query:(query_string:(analyze_wildcard:!t,query:'foo')),sort:!('@timestamp',desc))",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KibanaURL(kibanaBase, tt.index, tt.query, tt.columns); got != tt.want {
				t.Errorf("got\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestKibanaURL_IgnoresCommas(t *testing.T) {
	if KibanaURL(kibanaBase, "", "foo,bar", nil) != KibanaURL(kibanaBase, "", "foo bar", nil) {
		t.Error("commas should be treated as spaces")
	}
}

func TestEnvFromEntry(t *testing.T) {
	tests := []struct {
		entry Entry
		want  string
	}{
		{Entry{"@source_host": "ap-s32"}, EnvProduction},
		{Entry{"@source_host": "service-s32"}, EnvProduction},
		{Entry{"@source_host": "ap-r32"}, EnvBackupDC},
		{Entry{"@source_host": "service-r1"}, EnvBackupDC},
		{Entry{"@source_host": "staging-s1"}, EnvPreview},
		{Entry{"@source_host": "staging-s2"}, EnvProduction},
		{Entry{"@fields": map[string]any{"environment": "staging"}}, EnvStaging},
		{Entry{}, EnvProduction},
	}

	for _, tt := range tests {
		if got := EnvFromEntry(tt.entry); got != tt.want {
			t.Errorf("EnvFromEntry(%v) = %q, want %q", tt.entry, got, tt.want)
		}
	}
}

func TestURLFromEntry(t *testing.T) {
	e := Entry{"@fields": map[string]any{
		"server": "zh.asoiaf.wikia.com",
		"url":    "/wikia.php?controller=Foo&method=bar",
	}}
	if got := URLFromEntry(e); got != "http://zh.asoiaf.wikia.com/wikia.php?controller=Foo&method=bar" {
		t.Errorf("got %q", got)
	}
	if got := URLFromEntry(Entry{}); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
