package notify

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"weigh-station-backend/internal/model"
)

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of Sender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool fans station alerts out to all push subscriptions.
type WorkerPool struct {
	size    int
	jobs    chan string
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender

	// Fail-streak tracking per variant. failThreshold 0 disables it.
	failThreshold int
	streakMu      sync.Mutex
	streaks       map[int64]int
}

// NewWorkerPool creates a new worker pool. failThreshold is the number of
// consecutive out-of-range commits for one variant that raises an alert.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, failThreshold int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:          size,
		jobs:          make(chan string, size*4),
		db:            db,
		webpush:       webpushOptions,
		sender:        &WebPushSender{},
		failThreshold: failThreshold,
		streaks:       make(map[int64]int),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Alert worker %d started", id)
	for {
		select {
		case message := <-wp.jobs:
			wp.broadcast(ctx, []byte(message))
		case <-ctx.Done():
			log.Printf("Alert worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues an alert without blocking; the acquisition loop calls this
// and must never stall on slow push endpoints.
func (wp *WorkerPool) Dispatch(message string) {
	select {
	case wp.jobs <- message:
	default:
		log.Printf("Alert queue full, dropping: %s", message)
	}
}

// ScaleOffline reports a lost serial link.
func (wp *WorkerPool) ScaleOffline(reason string) {
	wp.Dispatch(fmt.Sprintf("Scale offline: %s", reason))
}

// ScaleOnline reports a restored serial link.
func (wp *WorkerPool) ScaleOnline() {
	wp.Dispatch("Scale connection restored")
}

// WeighResult feeds the fail-streak tracker with a commit outcome.
func (wp *WorkerPool) WeighResult(variant model.Variant, inRange bool) {
	if wp.failThreshold <= 0 {
		return
	}

	wp.streakMu.Lock()
	defer wp.streakMu.Unlock()
	if inRange {
		delete(wp.streaks, variant.ID)
		return
	}
	wp.streaks[variant.ID]++
	if wp.streaks[variant.ID] >= wp.failThreshold {
		wp.streaks[variant.ID] = 0
		wp.Dispatch(fmt.Sprintf("%d consecutive out-of-range weighings for %s", wp.failThreshold, variant.Name))
	}
}

// broadcast sends one alert to every stored subscription.
func (wp *WorkerPool) broadcast(ctx context.Context, payload []byte) {
	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		log.Printf("Error fetching push subscriptions: %v", err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	log.Printf("Sending %d push alerts", len(subscriptions))
	for _, sub := range subscriptions {
		wp.send(ctx, sub, payload)
	}
}

// send pushes one notification, deleting the subscription when the endpoint
// reports it expired.
func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
