package source

import (
	"testing"

	"github.com/refractionPOINT/syslog-generator/utils"
)

func testLogOptions(t *testing.T) utils.LogOptions {
	return utils.LogOptions{
		DebugLog: func(msg string) {
			t.Logf("DBG: %s", msg)
		},
		OnWarning: func(msg string) {
			t.Logf("WRN: %s", msg)
		},
		OnError: func(err error) {
			t.Errorf("ERR: %v", err)
		},
	}
}
