package connection

import (
	"os"
	"testing"

	"github.com/CommonSenseMachines/blender-mcp/logger"
)

func TestMain(m *testing.M) {
	// Keep test runs out of the real log directory
	logger.Reset()
	logger.Init(os.DevNull)

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}
