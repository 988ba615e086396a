package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/warp/reservation-engine/booking"
)

// LogNotifier writes notifications to the log instead of a broker. Used
// when RABBITMQ_URL is unset. The access URL is never logged.
type LogNotifier struct {
	Log logrus.FieldLogger
}

var _ booking.Notifier = LogNotifier{}

func (l LogNotifier) Notify(_ context.Context, n booking.Notification) error {
	log := l.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"kind":           n.Kind,
		"reservation_id": n.ReservationID,
		"status":         n.Status,
		"guest_email":    n.GuestEmail,
		"unit":           n.UnitName,
		"stay":           n.Arrival + ".." + n.Departure,
	}).Info("guest notification")
	return nil
}
