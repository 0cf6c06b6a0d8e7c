package clients

import "time"

const (
	PROCESS_BATCH_PATH     = "/process-batch"
	HEALTH_PATH            = "/health"
	DEFAULT_ANALYSIS_LIMIT = 300 * time.Second
	USER_AGENT             = "sentiflow-worker/1.0 (+https://github.com/spacesedan/sentiflow-worker)"
)
