package models

import "time"

// Role определяет права пользователя в системе
type Role string

const (
	RoleReseller Role = "reseller"
	RoleAdmin    Role = "admin"
)

// Tier - уровень подписки реселлера, от него зависит цена товара
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// User представляет пользователя: реселлера или администратора
type User struct {
	ID            int64
	Email         string
	PassHash      []byte
	Role          Role
	Tier          Tier
	LastOrderDate *time.Time
}

// Actor - тот, кто выполняет операцию (берется из JWT)
type Actor struct {
	UserID int64
	Role   Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
