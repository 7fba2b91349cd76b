// Package auth checks what a role may do. Roles and capabilities live in a
// casbin model/policy file pair; see config/model.conf and config/policy.csv.
package auth

import (
	"errors"
	"fmt"

	"github.com/casbin/casbin"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// objects and actions named in the policy
const (
	ObjectAccount     = "account"
	ObjectBeneficiary = "beneficiary"

	ActionRead       = "read"
	ActionWrite      = "write"
	ActionTransfer   = "transfer"
	ActionOpen       = "open"
	ActionAdminister = "administer"
)

var ErrPermissionDenied = errors.New("permission denied")

// Accepts ACL model and policy files
func New(model, policy string) (*Authorizer, error) {
	enforcer, err := casbin.NewEnforcerSafe(model, policy)
	if err != nil {
		return nil, fmt.Errorf("loading ACL: %w", err)
	}
	return &Authorizer{enforcer}, nil
}

type Authorizer struct {
	enforcer *casbin.Enforcer
}

func (a *Authorizer) Authorize(subject, object, action string) error {
	if !a.enforcer.Enforce(subject, object, action) {
		return fmt.Errorf("%w: %s not permitted to %s %s", ErrPermissionDenied, subject, action, object)
	}

	return nil
}
