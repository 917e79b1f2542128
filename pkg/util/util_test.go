package util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xplshn/kju/pkg/config"
)

func capture(t *testing.T) (*bytes.Buffer, *int) {
	t.Helper()
	var buf bytes.Buffer
	code := -1
	oldErr, oldExit, oldColour := stderr, exit, colour
	stderr, exit, colour = &buf, func(c int) { code = c }, false
	t.Cleanup(func() { stderr, exit, colour = oldErr, oldExit, oldColour })
	return &buf, &code
}

func TestError(t *testing.T) {
	buf, code := capture(t)
	Error("_ZN3KJU1fEv", "cannot reach %s", "g")
	assert.Equal(t, "kjuc: error: _ZN3KJU1fEv: cannot reach g\n", buf.String())
	assert.Equal(t, 1, *code)
}

func TestReportWithoutSubject(t *testing.T) {
	buf, code := capture(t)
	Report("", "no input files")
	assert.Equal(t, "kjuc: error: no input files\n", buf.String())
	assert.Equal(t, -1, *code, "Report must not exit")
}

func TestWarnRespectsConfig(t *testing.T) {
	buf, _ := capture(t)
	cfg := config.NewConfig()

	cfg.SetWarning(config.WarnRecursion, false)
	Warn(cfg, config.WarnRecursion, "fact", "calls itself")
	assert.Empty(t, buf.String())

	cfg.SetWarning(config.WarnRecursion, true)
	Warn(cfg, config.WarnRecursion, "fact", "calls itself")
	assert.Equal(t, "kjuc: warning: fact: calls itself [-Wrecursion]\n", buf.String())
}

func TestInfo(t *testing.T) {
	buf, code := capture(t)
	cfg := config.NewConfig()
	Info("%s", cfg.SetTarget("plan9", "386", ""))
	assert.Equal(t, "kjuc: info: host plan9/386 is not a supported target, generating amd64_sysv code\n", buf.String())
	assert.Equal(t, -1, *code)
}

func TestColour(t *testing.T) {
	buf, _ := capture(t)
	colour = true
	Report("x", "bad")
	assert.Equal(t, "kjuc: \033[31merror:\033[0m x: bad\n", buf.String())
}
