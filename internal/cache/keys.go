package cache

import (
	"fmt"

	"github.com/kiranshivaraju/repoanalyst/pkg/models"
)

func ReportKey(jobID models.JobID) string {
	return fmt.Sprintf("report:%s", jobID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
