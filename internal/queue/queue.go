package queue

import (
	"log"

	"github.com/hibiken/asynq"
)

// Queue wraps the Asynq client and handler mux. Notification dispatch is the
// only deferred work in the payment core.
type Queue struct {
	Client *asynq.Client
	Mux    *asynq.ServeMux
}

// New creates the queue client and handler mux
func New(redisURL string) (*Queue, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, err
	}

	log.Println("Queue client initialized")

	return &Queue{
		Client: asynq.NewClient(redisOpt),
		Mux:    asynq.NewServeMux(),
	}, nil
}

// ServerConfig returns the Asynq server configuration. Notifications run in
// their own queue so a flood of receipts cannot starve anything else added
// later.
func ServerConfig(redisURL string, concurrency int) (asynq.RedisConnOpt, asynq.Config, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, asynq.Config{}, err
	}

	return redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"notifications": 5,
			"default":       1,
		},
	}, nil
}

// Close gracefully closes the queue client
func (q *Queue) Close() error {
	if q.Client != nil {
		log.Println("Closing queue client...")
		return q.Client.Close()
	}
	return nil
}
