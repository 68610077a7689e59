package blobstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObjectPath(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 5e6, time.UTC)
	millis := "1709287200005"

	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{"plain", "license.pdf", "drivers/d1/licenses/" + millis + "_license.pdf"},
		{"spaces", "my license.pdf", "drivers/d1/licenses/" + millis + "_my_license.pdf"},
		{"path traversal", "../../etc/passwd", "drivers/d1/licenses/" + millis + "_passwd"},
		{"windows path", `C:\docs\scan.png`, "drivers/d1/licenses/" + millis + "_scan.png"},
		{"empty", "  ", "drivers/d1/licenses/" + millis + "_file"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ObjectPath("drivers", "d1", "licenses", ts, tc.filename))
		})
	}
}
