package worker

import (
	"github.com/spec-kit/account-service/internal/service"
)

// StartNotificationWorker registers the account event handlers.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}
