package jobresult

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert := assert.New(t)

	jr := JobResult{
		Error:   errors.New("no backups found"),
		JobName: "restore",
		Elapsed: time.Second,
	}

	assert.Equal("restore failed, it took 1s with error: no backups found", jr.String())

	jr.Error = nil
	jr.JobName = "create"
	jr.Backup = "backup__20211102171552.sql"
	assert.Equal("create backup__20211102171552.sql succeeded, it took 1s", jr.String())
}

func TestToSlackText(t *testing.T) {
	assert := assert.New(t)

	jr := JobResult{
		Error:   errors.New("Query wrong."),
		JobName: "restore",
		Backup:  "backup__20211102171552.sql",
		Elapsed: time.Second,
	}

	assert.Equal(":x: `restore backup__20211102171552.sql` failed, it took *1s* ```Query wrong.```", jr.ToSlackText())

	jr.Error = nil
	assert.Equal(":white_check_mark: `restore backup__20211102171552.sql` succeeded, it took *1s*", jr.ToSlackText())
}
