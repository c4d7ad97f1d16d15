package jobresult

import (
	"fmt"
	"time"
)

type JobResult struct {
	Error   error
	JobName string
	Backup  string // file name of the backup the job created or restored
	Elapsed time.Duration
}

func (result *JobResult) subject() string {
	if result.Backup == "" {
		return result.JobName
	}

	return fmt.Sprintf("%s %s", result.JobName, result.Backup)
}

func (result *JobResult) String() string {
	if result.Error != nil {
		return fmt.Sprintf("%s failed, it took %s with error: %v", result.subject(), result.Elapsed, result.Error)
	}

	return fmt.Sprintf("%s succeeded, it took %v", result.subject(), result.Elapsed)
}

func (result *JobResult) ToSlackText() string {
	if result.Error != nil {
		return fmt.Sprintf(":x: `%s` failed, it took *%s* ```%v```", result.subject(), result.Elapsed, result.Error)
	}

	return fmt.Sprintf(":white_check_mark: `%s` succeeded, it took *%v*", result.subject(), result.Elapsed)
}
