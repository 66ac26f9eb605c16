package addon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/akl/internal/storage"
)

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
		check   func(t *testing.T, m *Manifest)
	}{
		{
			name: "scanner defaults to process runtime",
			yaml: `id: script.akl.dirscanner
name: Directory scanner
version: 1.2.0
kind: scanner
entrypoint: dirscanner
`,
			check: func(t *testing.T, m *Manifest) {
				assert.Equal(t, storage.KindScanner, m.Kind)
				assert.Equal(t, storage.RuntimeProcess, m.Runtime)
				assert.True(t, m.IsEnabled())
				assert.Equal(t, storage.Capabilities{}, m.Capabilities())
			},
		},
		{
			name: "scraper capabilities and disabled flag",
			yaml: `id: script.akl.thegamesdb
name: TheGamesDB
version: v2.0.1
kind: SCRAPER
entrypoint: bin/scraper
enabled: false
scraper:
  supported_metadata: [m_year, m_genre]
  supported_assets: [boxfront]
`,
			check: func(t *testing.T, m *Manifest) {
				assert.False(t, m.IsEnabled())
				caps := m.Capabilities()
				assert.Equal(t, []string{"m_year", "m_genre"}, caps.SupportedMetadata)
				assert.Equal(t, []string{"boxfront"}, caps.SupportedAssets)
			},
		},
		{name: "missing id", yaml: "name: x\nversion: 1.0.0\nkind: SCANNER\nentrypoint: run\n", wantErr: "id is required"},
		{name: "id with slash", yaml: "id: a/b\nname: x\nversion: 1.0.0\nkind: SCANNER\nentrypoint: run\n", wantErr: "path separators"},
		{name: "bad version", yaml: "id: a\nname: x\nversion: latest\nkind: SCANNER\nentrypoint: run\n", wantErr: "semantic version"},
		{name: "bad kind", yaml: "id: a\nname: x\nversion: 1.0.0\nkind: EMULATOR\nentrypoint: run\n", wantErr: "invalid kind"},
		{name: "missing entrypoint", yaml: "id: a\nname: x\nversion: 1.0.0\nkind: SCANNER\n", wantErr: "entrypoint is required"},
		{name: "path traversal", yaml: "id: a\nname: x\nversion: 1.0.0\nkind: SCANNER\nentrypoint: ../evil\n", wantErr: "path traversal"},
		{name: "builtin with entrypoint", yaml: "id: a\nname: x\nversion: 1.0.0\nkind: LAUNCHER\nruntime: builtin\nentrypoint: run\n", wantErr: "no entrypoint"},
		{name: "unknown runtime", yaml: "id: a\nname: x\nversion: 1.0.0\nkind: LAUNCHER\nruntime: wasm\nentrypoint: run\n", wantErr: "invalid runtime"},
		{name: "scraper section on launcher", yaml: "id: a\nname: x\nversion: 1.0.0\nkind: LAUNCHER\nentrypoint: run\nscraper:\n  supported_assets: [fanart]\n", wantErr: "only valid for SCRAPER"},
		{name: "not yaml", yaml: "id: [", wantErr: "parse manifest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseManifest([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, m)
		})
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.1", -1},
		{"1.10.0", "1.9.0", 1},
		{"v2.0.0", "2.0.0", 0},
		{"1.0.0-beta", "1.0.0", -1},
		{"garbage", "0.0.1", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CompareVersions(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
	assert.True(t, ValidVersion("1.2"))
	assert.False(t, ValidVersion(""))
}
