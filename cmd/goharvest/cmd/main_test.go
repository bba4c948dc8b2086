package cmd

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	// Execute() calls os.Exit(1) on error, so only its presence is checked
	assert.NotNil(t, Execute)
}

func TestVersionVariables(t *testing.T) {
	assert.NotEmpty(t, Version, "Version should not be empty")
	assert.NotEmpty(t, Commit, "Commit should not be empty")
}

func TestCLIFlagsVariables(t *testing.T) {
	assert.Equal(t, "harvester.yaml", cfgFile, "cfgFile should default to harvester.yaml")
	assert.Equal(t, "", logLevel)
	assert.Equal(t, "", logFormat)
	assert.Equal(t, 0, retries)
	assert.Equal(t, 0, maxPasses)
	assert.False(t, noSync)
	assert.False(t, createOnMissing)
}

func TestJobVariables(t *testing.T) {
	assert.Equal(t, "", harvestJob, "harvestJob should default to empty")
	assert.Equal(t, "", syncJob, "syncJob should default to empty")
	assert.Equal(t, "", syncInput, "syncInput should default to empty")
}

// ============================================================================
// Shared fixtures
// ============================================================================

// saveFlags restores every package-level flag variable when the test ends.
func saveFlags(t *testing.T) {
	t.Helper()
	saved := struct {
		cfgFile, logLevel, logFormat string
		retries, maxPasses           int
		noSync, createOnMissing      bool
		harvestJob, harvestSummary   string
		harvestForce                 bool
		syncJob, syncInput           string
		syncForce, listJobsHistory   bool
	}{cfgFile, logLevel, logFormat, retries, maxPasses, noSync, createOnMissing,
		harvestJob, harvestSummary, harvestForce, syncJob, syncInput, syncForce, listJobsHistory}

	t.Cleanup(func() {
		cfgFile, logLevel, logFormat = saved.cfgFile, saved.logLevel, saved.logFormat
		retries, maxPasses = saved.retries, saved.maxPasses
		noSync, createOnMissing = saved.noSync, saved.createOnMissing
		harvestJob, harvestSummary, harvestForce = saved.harvestJob, saved.harvestSummary, saved.harvestForce
		syncJob, syncInput, syncForce = saved.syncJob, saved.syncInput, saved.syncForce
		listJobsHistory = saved.listJobsHistory
		rootCmd.SetArgs(nil)
	})
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harvester.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// forecastServer serves a province selector whose form submits to
// /forecast, where today's card is rendered for every province.
func forecastServer(t *testing.T) *httptest.Server {
	t.Helper()
	form := `<form action="/forecast" method="get"><select name="province" id="province">` +
		`<option value="">เลือกจังหวัด</option><option value="10">กรุงเทพมหานคร</option>` +
		`<option value="50">เชียงใหม่</option></select></form>`
	names := map[string]string{"10": "มีเมฆบางส่วน", "50": "ฝนฟ้าคะนอง"}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body>%s</body></html>", form)
	})
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		weather := names[r.URL.Query().Get("province")]
		fmt.Fprintf(w, `<html><body>%s<div class="card card-shadow text-center"><div class="font-small">วันนี้</div>`+
			`<div class="font-tiny text-center">%s</div><div class="font-tiny text-center">30%%</div></div></body></html>`,
			form, weather)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// harvestConfig returns a config for job "tmd" against url using the file
// backend rooted at remoteDir. jobExtra lines are added to the job section.
func harvestConfig(url, remoteDir string, jobExtra ...string) string {
	return fmt.Sprintf(`page:
  timeout_seconds: 5
  poll_seconds: 0.01
  requests_per_second: 0

harvest:
  retries_per_entity: 2
  max_passes: 3
  max_discovery_tries: 1
  min_catalog_size: 2
  ready_timeout_seconds: 1
  retry_pause_seconds: 0
  sleep_min_seconds: 0
  sleep_max_seconds: 0

sync:
  resource_id: tmd.csv
  verification:
    method: count

remote:
  backend: file
  file:
    root: %s

logging:
  level: error
  format: text
  output: stderr

jobs:
  tmd:
    url: %s/
    entity_selector: "select#province"
%s
`, remoteDir, url, strings.Join(jobExtra, "\n"))
}
