package billing

import (
	"fmt"
	"time"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/pkg/gateway"
)

// Customer is the gateway view of a subscriber. A nil user gives an empty
// customer.
func Customer(u *entity.User) gateway.Customer {
	if u == nil {
		return gateway.Customer{}
	}
	c := gateway.Customer{FullName: u.DisplayName(), Email: u.Email}
	if u.Phone != nil {
		c.Phone = *u.Phone
	}
	return c
}

// OrderLabel names a charge on the subscriber's statement, e.g. "Pro 2026-03".
func OrderLabel(plan *entity.Plan, at time.Time) string {
	return fmt.Sprintf("%s %s", plan.Name, at.Format("2006-01"))
}
