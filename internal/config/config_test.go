package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GiraffeSchool/student-signin-system/internal/ledger"
)

func TestDefaults(t *testing.T) {
	a, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "3000", a.Port)
	assert.Equal(t, 0.1, a.AllowedRadiusKm)
	assert.InDelta(t, 22.5833, a.School.Lat, 1e-4)
	assert.Equal(t, LockMemory, a.LockBackend)
	assert.Equal(t, "Asia/Taipei", a.Location.String())
	assert.Equal(t, 5*time.Second, a.MessagingHealthTimeout)
	assert.Equal(t, ledger.DefaultLayout(), a.Layout)
	require.Len(t, a.Tables, 3)
	assert.Equal(t, []string{"國中", "先修", "兒美"}, []string{a.Tables[0].Name, a.Tables[1].Name, a.Tables[2].Name})
	assert.False(t, a.Cloudinary.Enabled())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("SHEET_IDS", "A=sheet-a, B=sheet-b")
	t.Setenv("ALLOWED_RADIUS_KM", "0.25")
	t.Setenv("LEDGER_TIMEOUT", "3s")
	t.Setenv("LEDGER_STRICT_UNIQUE", "true")
	t.Setenv("LOCK_BACKEND", "Redis")
	t.Setenv("PRESENT_TAG", "present")
	t.Setenv("LINE_CHANNEL_SECRET", "s3cret")

	a, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "8080", a.Port)
	assert.Equal(t, []ledger.TableRef{{ID: "sheet-a", Name: "A"}, {ID: "sheet-b", Name: "B"}}, a.Tables)
	assert.Equal(t, 0.25, a.Fence().RadiusKm)
	assert.Equal(t, 3*time.Second, a.LedgerTimeout)
	assert.True(t, a.LedgerStrictUnique)
	assert.Equal(t, LockRedis, a.LockBackend)
	assert.Equal(t, "present", a.Layout.PresentTag)
	assert.Equal(t, "s3cret", a.LineChannelSecret)
}

func TestValidation(t *testing.T) {
	cases := map[string][2]string{
		"bad radius":   {"ALLOWED_RADIUS_KM", "0"},
		"bad lat":      {"SCHOOL_LAT", "123"},
		"bad backend":  {"LOCK_BACKEND", "etcd"},
		"bad tables":   {"SHEET_IDS", "just-an-id"},
		"bad timezone": {"TIMEZONE", "Mars/Olympus"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := FromViper(viper.New())
			require.Error(t, err)
			assert.Contains(t, err.Error(), kv[0])
		})
	}
}

func TestParseTables(t *testing.T) {
	_, err := ParseTables("A=1,A=2")
	assert.ErrorContains(t, err, "duplicate")

	_, err = ParseTables(" , ")
	assert.ErrorContains(t, err, "no tables")

	refs, err := ParseTables("國中=x,,先修=y")
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}

func TestMissing(t *testing.T) {
	a := App{GoogleCredentialsFile: "does-not-exist.json"}
	assert.Equal(t, []string{"LINE_CHANNEL_ACCESS_TOKEN", "LINE_CHANNEL_SECRET", "GOOGLE_SERVICE_ACCOUNT"}, a.Missing())

	a = App{LineAccessToken: "t", LineChannelSecret: "s", GoogleServiceAccount: "{}"}
	assert.Empty(t, a.Missing())
}

func TestLockTTLDerivedFromRosterCount(t *testing.T) {
	a, err := FromViper(viper.New())
	require.NoError(t, err)
	// Three rosters plus the write, 10s each.
	assert.Equal(t, 40*time.Second, a.MinLockTTL())
	assert.Equal(t, 45*time.Second, a.LockTTL)

	t.Setenv("LOCK_BACKEND", "redis")
	t.Setenv("LOCK_TTL", "60s")
	a, err = FromViper(viper.New())
	require.NoError(t, err)
	assert.Equal(t, time.Minute, a.LockTTL)
}

func TestLockTTLTooShortForRedis(t *testing.T) {
	t.Setenv("LOCK_BACKEND", "redis")
	t.Setenv("LOCK_TTL", "30s")
	_, err := FromViper(viper.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOCK_TTL")
}
