package auth_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bankledger/internal/auth"
	"bankledger/testutil"
)

func TestAuthorize(t *testing.T) {
	a, err := auth.New(testutil.WriteACL(t))
	require.NoError(t, err)

	for _, tc := range []struct {
		subject, object, action string
		allowed                 bool
	}{
		{auth.RoleCustomer, auth.ObjectAccount, auth.ActionRead, true},
		{auth.RoleCustomer, auth.ObjectAccount, auth.ActionTransfer, true},
		{auth.RoleCustomer, auth.ObjectBeneficiary, auth.ActionWrite, true},
		{auth.RoleCustomer, auth.ObjectAccount, auth.ActionAdminister, false},
		{auth.RoleCustomer, auth.ObjectAccount, auth.ActionOpen, false},
		// admins inherit every customer capability
		{auth.RoleAdmin, auth.ObjectAccount, auth.ActionTransfer, true},
		{auth.RoleAdmin, auth.ObjectAccount, auth.ActionAdminister, true},
		{"nobody", auth.ObjectAccount, auth.ActionRead, false},
	} {
		err := a.Authorize(tc.subject, tc.object, tc.action)
		if tc.allowed {
			require.NoError(t, err, "%s %s %s", tc.subject, tc.action, tc.object)
		} else {
			require.ErrorIs(t, err, auth.ErrPermissionDenied, "%s %s %s", tc.subject, tc.action, tc.object)
		}
	}
}

func TestNewMissingFiles(t *testing.T) {
	_, err := auth.New("missing/model.conf", "missing/policy.csv")
	require.Error(t, err)
}
