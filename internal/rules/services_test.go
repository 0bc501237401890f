package rules

import (
	"testing"

	"jira-reporter/internal/anemometer"
	"jira-reporter/internal/source"

	"github.com/google/go-cmp/cmp"
)

func TestPandora_Normalize(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"foo", "Pandora-foo-lib.foo-Service"},
		{"foo 123", "Pandora-foo N-lib.foo-Service"},
		{"Exception purging https://services.wikia.com/user-attribute/user/5430694", "Pandora-Exception purging <URL>-lib.foo-Service"},
		{"Exception purging http://example.com", "Pandora-Exception purging <URL>-lib.foo-Service"},
		{`error while sending: {"args":{"prevRevision":false,"revision":66213},"is_main_page":false}`, "Pandora-error while sending: {json here}-lib.foo-Service"},
		{"too much data after closed for HttpChannelOverHttp@276b8295{r=1,c=false,a=IDLE,uri=-}", "Pandora-too much data after closed for HttpChannelOverHttp@HASH{json here}-lib.foo-Service"},
		{"Read timed out reading GET http://dailylifewithamonstergirl.wikia.com/wiki/Centorea_Shianus?action=raw", "Pandora-Read timed out reading GET <URL>-lib.foo-Service"},
		{"Site/Shard map invalid or missing entry for site 831", "Pandora-Site/Shard map invalid or missing entry for site N-lib.foo-Service"},
		{
			"Context property 'correlation ID' is missing from the Rabbit message, falling back to 'c2faca50-9106-4b7d-bfd3-5c3fd27e83b9'",
			"Pandora-Context property 'correlation ID' is missing from the Rabbit message, falling back to 'HASH'-lib.foo-Service",
		},
	}

	r := NewPandora(testDeps())
	for _, tt := range tests {
		assertNormalized(t, r, source.Entry{"rawMessage": tt.message, "logger_name": "lib.foo", "appname": "Service"}, tt.want)
	}
}

func TestPandora_KeepAndLink(t *testing.T) {
	r := NewPandora(testDeps())

	tests := []struct {
		entry source.Entry
		want  bool
	}{
		{source.Entry{"rawMessage": "foo", "appname": "app", "rawLevel": "ERROR"}, true},
		{source.Entry{"rawMessage": "foo", "appname": "app", "rawLevel": "WARN"}, true},
		{source.Entry{"rawMessage": "foo", "appname": "app", "rawLevel": "DEBUG"}, false},
		{source.Entry{"rawMessage": "foo", "rawLevel": "ERROR"}, false},
	}
	for _, tt := range tests {
		if got := r.Keep(tt.entry); got != tt.want {
			t.Errorf("Keep(%v) = %v, want %v", tt.entry, got, tt.want)
		}
	}

	want := "https://kibana.wikia-inc.com/app/kibana#/discover?_g=(time:(from:now-6h,mode:quick,to:now))" +
		"&_a=(columns:!('@timestamp','rawLevel','logger_name','rawMessage','thread_name'),index:'logstash-*'," +
		"query:(query_string:(analyze_wildcard:!t,query:'appname%3A%20%22event-logger%22%20AND%20rawMessage%3A%20%22ga%20is%20not%20defined%22'))," +
		"sort:!('@timestamp',desc))"
	if got := r.Link(source.Entry{"appname": "event-logger", "rawMessage": "ga is not defined"}); got != want {
		t.Errorf("Link() = %q, want %q", got, want)
	}

	rep := mustBuild(t, r, source.Entry{"rawMessage": "foo", "appname": "event-logger", "rawLevel": "ERROR"})
	if rep.Summary != "[event-logger] foo" {
		t.Errorf("Summary = %q", rep.Summary)
	}
	if diff := cmp.Diff([]string{"PandoraErrors", "service_event-logger"}, rep.Labels); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}
}

func TestPhalanx_Normalize(t *testing.T) {
	r := NewPhalanx(testDeps())

	assertNormalized(t, r, source.Entry{"@message": "foo", "logger_name": "logger"}, "Phalanx-logger-foo")
	assertNormalized(t, r, source.Entry{
		"@message":    "Could not notify node phalanx-r4: com.twitter.util.TimeoutException: 10.seconds",
		"logger_name": "sendNotify",
	}, "Phalanx-sendNotify-Could not notify node phalanx-*: com.twitter.util.TimeoutException: 10.seconds")
	assertNormalized(t, r, source.Entry{
		"@message":    "Request to 10.8.1.2:4666 took 1234ms X-Request-Id: 0a1b2c3d-4e5f",
		"logger_name": "http",
	}, "Phalanx-http-Request to x.x.x.x:x took Nms")
}

func TestHelios(t *testing.T) {
	r := NewHelios(testDeps())

	for host, want := range map[string]bool{"auth-s1": true, "auth-r1": true, "dev-auth-s1": false} {
		if got := r.Keep(source.Entry{"@source_host": host}); got != want {
			t.Errorf("Keep(%q) = %v, want %v", host, got, want)
		}
	}

	assertNormalized(t, r, source.Entry{"@message": "foo"}, "Helios-foo")
	assertNormalized(t, r, source.Entry{"@message": "Error 1062: Duplicate entry '27788246-112328095453510' for key 'user_id'"},
		"Helios-Error 1062: Duplicate entry 'X' for key 'X'")
}

func TestVignette_BuildReport(t *testing.T) {
	r := NewVignette(testDeps())
	assertNormalized(t, r, source.Entry{"@message": "test", "logger_name": "test_logger"}, "Vignette-test_logger-test")

	rep := mustBuild(t, r, source.Entry{
		"@message":     "foo",
		"@source_host": "localhost",
		"appname":      "vignette",
		"level":        "ERROR",
		"thumb-map":    "thumb map",
		"estimated":    "estimated",
		"actual":       "actual",
	})

	want := "h3. ERROR: foo\n\n*App name*: {{vignette}}\n*Source host*: {{localhost}}\n*Thumb map*: {{thumb map}}\n*Estimated*: {{estimated}}\n*Actual*: {{actual}}"
	if rep.Description != want {
		t.Errorf("Description = %q, want %q", rep.Description, want)
	}
	if diff := cmp.Diff([]string{"vignette"}, rep.Labels); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}
}

func celeryEntry() source.Entry {
	return source.Entry{
		"event":      "Task failed",
		"datacenter": "SJC",
		"kubernetes": map[string]any{
			"namespace_name": "prod",
			"container_name": "mediawiki-main",
		},
		"exception": `RemoteExecuteError(u'Wikia\\SwiftSync\\ImageSyncTask::synchronize',)`,
		"task_id":   "mw-F9D9236F-73CA-4608-9E98-BAFE2A7A9359",
	}
}

func TestCelery(t *testing.T) {
	r := NewCelery(testDeps())

	assertNormalized(t, r, celeryEntry(), `Celery-mediawiki-main-RemoteExecuteError(u'Wikia\\SwiftSync\\ImageSyncTask::synchronize',)`)
	assertNormalized(t, r, source.Entry{
		"kubernetes": map[string]any{"container_name": "mediawiki-main"},
		"exception":  "RemoteExecuteError(u\"A database error has occurred.  Did you forget to run maintenance/update.php after upgrading?\nQuery: UPDATE `city_list` SET city_last_timestamp = '20181008181837'\n\",)",
	}, `Celery-mediawiki-main-RemoteExecuteError(u"A database error has occurred.")`)

	rep := mustBuild(t, r, celeryEntry())
	assertContains(t, rep.Description,
		"Celery worker has reported the following error when processing *mediawiki-main* queue:",
		"*Flower link*: http://celery-flower.sjc.k8s.wikia.net/task/mw-F9D9236F-73CA-4608-9E98-BAFE2A7A9359",
	)
	if want := `Celery worker mediawiki-main reported: RemoteExecuteError(u'Wikia\\SwiftSync\\ImageSyncTask::synchronize',)`; rep.Summary != want {
		t.Errorf("Summary = %q, want %q", rep.Summary, want)
	}
	if diff := cmp.Diff([]string{"CeleryWorkersError", "mediawiki-main"}, rep.Labels); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}

	link := r.Link(celeryEntry())
	assertContains(t, link, "index:'logstash-mediawiki-*'", "mw-F9D9236F")
}

func TestChatAndMercury(t *testing.T) {
	chat := NewChat(testDeps())
	assertNormalized(t, chat, source.Entry{"@message": "Redis gone", "@source_host": "chat-s1"}, "Chat-Redis gone-Production")
	rep := mustBuild(t, chat, source.Entry{"@message": "Redis gone"})
	assertContains(t, rep.Description, "h3. Redis gone\nn/a\n\n{code}")

	mercury := NewMercury(testDeps())
	assertNormalized(t, mercury, source.Entry{"msg": "boom", "namespace": "api"}, "mobile-wiki-api-boom-Production")
	rep = mustBuild(t, mercury, source.Entry{"msg": "boom"})
	if rep.Summary != "[main] boom" {
		t.Errorf("Summary = %q", rep.Summary)
	}
	if diff := cmp.Diff([]string{"MercuryErrors", "mercury-main"}, rep.Labels); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractErrorAndSQL(t *testing.T) {
	tests := []struct {
		in      string
		wantErr string
		wantSQL string
	}{
		{"foo", "foo", ""},
		{
			`DBD::mysql::db do failed: Duplicate entry '1608358-28599913-' for key 'PRIMARY' [for Statement "INSERT INTO events_local_users ( all_groups, user_id ) VALUES ( 'bureaucrat;sysop', '28599913' )"]`,
			"Duplicate entry '1608358-28599913-' for key 'PRIMARY'",
			"INSERT INTO events_local_users ( all_groups, user_id ) VALUES ( 'bureaucrat;sysop', '28599913' )",
		},
		{
			`DBD::mysql::db do failed: Lock wait timeout exceeded; try restarting transaction [for Statement "update city_list set city_last_timestamp = '2017-11-30 08:45:03' where city_id = '1656550' "]`,
			"Lock wait timeout exceeded; try restarting transaction",
			"update city_list set city_last_timestamp = '2017-11-30 08:45:03' where city_id = '1656550'",
		},
	}

	for _, tt := range tests {
		gotErr, gotSQL := ExtractErrorAndSQL(tt.in)
		if gotErr != tt.wantErr || gotSQL != tt.wantSQL {
			t.Errorf("ExtractErrorAndSQL(%q) = (%q, %q), want (%q, %q)", tt.in, gotErr, gotSQL, tt.wantErr, tt.wantSQL)
		}
	}
}

func TestBackend(t *testing.T) {
	r := NewBackend(testDeps())

	assertNormalized(t, r, source.Entry{"@message": "foo"}, "Backend-foo-n/a-n/a")
	e := source.Entry{
		"@message": "LB::error",
		"@fields":  map[string]any{"script_name": "foo.pl"},
		"@context": map[string]any{
			"error": `DBD::mysql::db do failed: Duplicate entry '1599131-4962-5643-0-2017-11-30 07:42:36' for key 'PRIMARY' [for Statement "insert into stats.events (is_content,wiki_id,ip_bin) values( 'N', '1599131', INET6_ATON('202.156.158.220')) "]`,
		},
	}
	assertNormalized(t, r, e, "Backend-LB::error-foo.pl-DBD::mysql::db do failed: Duplicate entry X for key X [for Statement X]")

	rep := mustBuild(t, r, e)
	if rep.Summary != "foo.pl - LB::error" {
		t.Errorf("Summary = %q", rep.Summary)
	}
	assertContains(t, rep.Description, `h3. The Camel says "{{LB::error}}"`, "Duplicate entry '1599131-4962-5643-0-2017-11-30 07:42:36' for key 'PRIMARY'\n\n{code:sql}\ninsert into stats.events")
}

func TestPipeAndIndexDigest(t *testing.T) {
	pipe := NewPipe(testDeps())
	e := source.Entry{"report": map[string]any{
		"title":   "/maintenance/foo.php script is not used",
		"message": "Consider removing this script.",
		"hash":    "not-used-maintenance-scripts-/maintenance/foo.php",
		"tags":    []any{"not-used-maintenance-scripts"},
	}}
	assertNormalized(t, pipe, e, "not-used-maintenance-scripts-/maintenance/foo.php")
	rep := mustBuild(t, pipe, e)
	if rep.Summary != "/maintenance/foo.php script is not used" || rep.Description != "Consider removing this script." {
		t.Errorf("report = %v", rep)
	}
	if diff := cmp.Diff([]string{"not-used-maintenance-scripts"}, rep.Labels); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}

	digest := NewIndexDigest(testDeps())
	assertNormalized(t, digest, source.Entry{
		"report": map[string]any{
			"message": `"user_id" index can be removed as redundant (covered by "user_wiki_preference")`,
			"table":   "local_preference",
			"type":    "redundant_indices",
		},
		"meta": map[string]any{"database_name": "user_preferences"},
	}, `index-digest-user_preferences-redundant_indices-local_preference-"user_id" index can be removed as redundant (covered by "user_wiki_preference")`)
	assertNormalized(t, digest, source.Entry{
		"report": map[string]any{
			"message": `"cu_log" has rows added 3726 days ago, consider changing retention policy`,
			"table":   "local_preference",
			"type":    "redundant_indices",
		},
		"meta": map[string]any{"database_name": "user_preferences"},
	}, `index-digest-user_preferences-redundant_indices-local_preference-"cu_log" has rows added N days ago, consider changing retention policy`)

	rep = mustBuild(t, digest, source.Entry{
		"report": map[string]any{"message": "foo", "table": "page", "type": "not_used_tables"},
		"meta":   map[string]any{"database_name": "wikicities", "version": "index-digest v1.2.0"},
	})
	if rep.Summary != "page | foo" {
		t.Errorf("Summary = %q", rep.Summary)
	}
	assertContains(t, rep.Description, "{code:sql}\n-- n/a\n{code}", "h6. Reported by index-digest v1.2.0")
	if diff := cmp.Diff([]string{"index-digest", "index-digest-not_used_tables"}, rep.Labels); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}
}

func TestK8sBackoff(t *testing.T) {
	r := NewK8sBackoff(testDeps())
	e := source.Entry{"involvedObject": map[string]any{"name": "sla-report-comdev-1542331800"}}

	assertNormalized(t, r, e, "k8s-job-has-reached-the-specified-backoff-limit-sla-report-comdev")

	rep := mustBuild(t, r, e)
	if rep.Summary != "Job sla-report-comdev has reached the specified backoff limit" {
		t.Errorf("Summary = %q", rep.Summary)
	}
	assertContains(t, rep.Description,
		`"Job has reached the specified backoff limit" has been reported for sla-report-comdev:`,
		"*Kubernetes dashboard link*: https://dashboard.sjc.k8s.wikia.net:30080/#!/search?namespace=prod&q=sla-report-comdev",
	)
	if diff := cmp.Diff([]string{"k8s-backoff-limit", "k8s"}, rep.Labels); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}
}

const (
	ucpMessage    = "PHP Notice: Undefined property: StubObject::$mOutput in /extensions/fandom/Blogs/src/BlogTemplate.php on line 961 "
	ucpStackTrace = "PHP Notice: Undefined property: StubObject::$mOutput in /extensions/fandom/Blogs/src/BlogTemplate.php on line 961\n" +
		"\t#0 /extensions/fandom/Blogs/src/BlogTemplate.php(961): MWExceptionHandler::handleError(integer, string, string, integer, array)\n" +
		"\t#1 /extensions/fandom/Blogs/src/BlogArticle.php(39): Fandom\\Blogs\\BlogArticle->showFeed(string)\n" +
		"\t#2 /includes/MediaWiki.php(499): ViewAction->show()\n" +
		"\t#3 /index.php(42): MediaWiki->run()\n\t#4 {main} "
)

func ucpEntry(eventType string) source.Entry {
	return source.Entry{
		"@message": ucpMessage,
		"@fields": map[string]any{
			"http_url_domain": "hearthstone.gamepedia.com",
			"http_url_path":   "/Holy_Mackerel",
		},
		"stack_trace": ucpStackTrace,
		"event":       map[string]any{"type": eventType},
	}
}

func TestUCP_BuildReport(t *testing.T) {
	tests := []struct {
		eventType string
		priority  string
	}{
		{"fatal", "9"},
		{"error", "8"},
		{"exception", "6"},
		{"random", ""},
	}

	r := NewUCP(testDeps())
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			rep := mustBuild(t, r, ucpEntry(tt.eventType))

			assertContains(t, rep.Description, ucpStackTrace, "hearthstone.gamepedia.com", ucpMessage)
			if rep.Summary != ucpMessage {
				t.Errorf("Summary = %q, want %q", rep.Summary, ucpMessage)
			}
			if rep.Priority != tt.priority {
				t.Errorf("Priority = %q, want %q", rep.Priority, tt.priority)
			}
			if rep.URL != "https://hearthstone.gamepedia.com/Holy_Mackerel" {
				t.Errorf("URL = %q", rep.URL)
			}
		})
	}
}

func TestUCP_Owner(t *testing.T) {
	d := testDeps()
	d.Owners = map[string]string{
		"extensions/fandom":       "Platform",
		"extensions/fandom/Blogs": "Community Product",
	}
	r := NewUCP(d)

	rep := mustBuild(t, r, ucpEntry("error"))
	assertContains(t, rep.Description, "*Product owner*: Community Product")

	if _, ok := r.Owner("/includes/MediaWiki.php(499)"); ok {
		t.Error("Owner() matched core code")
	}
}

func TestUCP_EnvAndFilter(t *testing.T) {
	tests := []struct {
		entry source.Entry
		want  string
	}{
		{source.Entry{"kubernetes": map[string]any{"labels": map[string]any{"app": "mediawiki-preview-ucp"}}}, source.EnvPreview},
		{source.Entry{"kubernetes": map[string]any{"labels": map[string]any{"app": "mediawiki-sandbox-s1"}}}, source.EnvStaging},
		{source.Entry{"datacenter": "RES"}, source.EnvBackupDC},
		{source.Entry{"datacenter": "SJC"}, source.EnvProduction},
	}
	for _, tt := range tests {
		if got := UCPEnv(tt.entry); got != tt.want {
			t.Errorf("UCPEnv(%v) = %q, want %q", tt.entry, got, tt.want)
		}
	}

	r := NewUCP(testDeps())
	if r.Keep(source.Entry{"@message": "foo", "datacenter": "RES"}) {
		t.Error("backup datacenter entry kept")
	}
	assertNormalized(t, r, source.Entry{"@message": "Could not resolve cluster for DB name: foowiki"},
		"PHP-Could not resolve cluster for DB name: X-Production")
}

type fakeDigest struct {
	rows []map[string]any
}

func (f *fakeDigest) Queries(anemometer.Params) ([]map[string]any, error) {
	return f.rows, nil
}

func TestAnemometer(t *testing.T) {
	row := map[string]any{
		"checksum":             "3B4DD0B5A40A4D7A",
		"snippet":              "SELECT page",
		"Fingerprint":          "select * from page where page_id = ?",
		"Query_time_sum":       "412.5",
		"Query_time_median":    "0.25",
		"Rows_examined_median": "1200",
		"rows_sent_avg":        "12.7",
		"ts_cnt":               "1650",
		"hostname_max":         "db-s1",
		"db_max":               "muppet",
		"sample":               "SELECT * FROM page WHERE page_id = 1",
	}
	d := testDeps()
	d.Anemometer = &fakeDigest{rows: []map[string]any{row}}
	d.AnemometerURL = "http://anemometer"
	r := NewAnemometer(d)

	entries, err := r.Fetch("")
	if err != nil || len(entries) != 1 {
		t.Fatalf("Fetch() = %v, %v", entries, err)
	}

	tests := []struct {
		name  string
		patch map[string]any
		want  bool
	}{
		{"slow in total", nil, true},
		{"slow median", map[string]any{"Query_time_sum": "10", "Query_time_median": "0.75"}, true},
		{"fast", map[string]any{"Query_time_sum": "10"}, false},
		{"backups", map[string]any{"Fingerprint": "mysqldump"}, false},
		{"DPL", map[string]any{"snippet": "DPLMain:dynamicPageList"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := source.Entry{}
			for k, v := range row {
				e[k] = v
			}
			for k, v := range tt.patch {
				e[k] = v
			}
			if got := r.Keep(e); got != tt.want {
				t.Errorf("Keep() = %v, want %v", got, tt.want)
			}
		})
	}

	assertNormalized(t, r, entries[0], "3B4DD0B5A40A4D7A")

	rep := mustBuild(t, r, entries[0])
	if rep.Summary != "[Anemometer] SELECT page can be optimized" {
		t.Errorf("Summary = %q", rep.Summary)
	}
	assertContains(t, rep.Description,
		"[View this query details in Anemometer|http://anemometer/index.php?action=show_query&datasource=localhost&checksum=3B4DD0B5A40A4D7A]",
		"*Median query time*: 0.25 sec",
		"*Rows sent average*: 12",
		`"Query_time_sum": "412.5"`,
	)
	if diff := cmp.Diff([]string{"Anemometer", "database", "performance"}, rep.Labels); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}
}
