package models

import "time"

// Notification - запись уведомления. Единственная гарантированно сохраняемая часть побочных эффектов
type Notification struct {
	ID          int64     `json:"id"`
	RecipientID int64     `json:"recipient_id"`
	Type        EventType `json:"type"`
	Message     string    `json:"message"`
	OrderID     int64     `json:"order_id"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}
