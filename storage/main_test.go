package storage

import (
	"io"
	"os"
	"testing"

	"svcpanel/utils"
)

func TestMain(m *testing.M) {
	utils.Log = utils.NewLoggerTo(io.Discard, utils.ERROR)
	os.Exit(m.Run())
}
