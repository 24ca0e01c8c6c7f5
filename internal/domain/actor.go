package domain

// Role — роль аутентифицированного пользователя.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
	RoleAdmin    Role = "admin"
)

// Actor — уже аутентифицированный инициатор запроса.
type Actor struct {
	CustomerID string
	Role       Role
}

// IsStaff — администратор или одобренный продавец.
func (a Actor) IsStaff() bool {
	return a.Role == RoleAdmin || a.Role == RoleSeller
}

// Owns проверяет, принадлежит ли заказ инициатору.
func (a Actor) Owns(order Order) bool {
	return a.CustomerID != "" && a.CustomerID == order.CustomerID
}
