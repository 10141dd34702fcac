package version

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfo(t *testing.T) {
	info := Info{Version: "1.2.0", Commit: "abc123", BuildDate: "2026-01-02"}

	assert.Equal(t, "1.2.0 (commit abc123, built 2026-01-02)", info.String())

	raw, err := json.Marshal(info)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"1.2.0","commit":"abc123","build_date":"2026-01-02"}`, string(raw))
}
