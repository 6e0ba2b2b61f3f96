package runtime

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserAgent(t *testing.T) {
	info := RuntimeInfo{AppName: "trove", Version: "v1.2.0"}
	assert.Equal(t, "trove/v1.2.0", info.UserAgent())

	info.VcsRevision = "0123abcd"
	assert.Equal(t, "trove/v1.2.0 (0123abcd)", info.UserAgent())
}

func TestLoad(t *testing.T) {
	info := Load("trove")
	assert.Equal(t, "trove", info.AppName)
	assert.NotEmpty(t, info.Version)
	assert.True(t, strings.HasPrefix(info.GoVersion, "go"))
}
