package queue

import "time"

const (
	KEY_PREFIX = "sentiflow:queue:"

	FIELD_PAYLOAD     = "payload"
	FIELD_ATTEMPTS    = "attempts"
	FIELD_STATUS      = "status"
	FIELD_ENQUEUED_AT = "enqueued_at"
	FIELD_ERROR       = "error"
	FIELD_RESULT      = "result"

	RESULT_TTL    = 24 * time.Hour
	HEARTBEAT_TTL = 30 * time.Second
)

// keys lays out one queue under sentiflow:queue:{<name>}. The hash tag keeps every key of
// a queue in one cluster slot, which BLMOVE and the pipelines need.
type keys struct {
	prefix string
}

func newKeys(name string) keys {
	return keys{prefix: KEY_PREFIX + "{" + name + "}"}
}

func (k keys) pending() string {
	return k.prefix + ":pending"
}

func (k keys) scheduled() string {
	return k.prefix + ":scheduled"
}

func (k keys) failed() string {
	return k.prefix + ":failed"
}

func (k keys) workers() string {
	return k.prefix + ":workers"
}

func (k keys) processing(worker string) string {
	return k.prefix + ":processing:" + worker
}

func (k keys) heartbeat(worker string) string {
	return k.prefix + ":heartbeat:" + worker
}

func (k keys) job(id string) string {
	return k.prefix + ":job:" + id
}

func (k keys) pattern() string {
	return k.prefix + ":*"
}
