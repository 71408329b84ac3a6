package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"stowage/internal/types"
)

func TestClientRepository_GetBillingProfile(t *testing.T) {
	db := new(mockDBTX)
	repo := NewClientRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"cl-1"}).
		Return(rowOf("cl-1", "Andes Imports", strPtr("ap@andes.example"), strPtr("cus_123")))

	p, err := repo.GetBillingProfile(context.Background(), "cl-1")
	require.NoError(t, err)
	assert.Equal(t, "Andes Imports", p.Name)
	assert.Equal(t, "cus_123", *p.StripeCustomerID)
}

func TestClientRepository_GetBillingProfile_NoStripeCustomer(t *testing.T) {
	db := new(mockDBTX)
	repo := NewClientRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rowOf("cl-2", "Pacific Fruit", nil, nil))

	p, err := repo.GetBillingProfile(context.Background(), "cl-2")
	require.NoError(t, err)
	assert.Nil(t, p.StripeCustomerID)
	assert.Nil(t, p.Email)
}

func TestClientRepository_GetBillingProfile_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorCode
	}{
		{"not found", pgx.ErrNoRows, types.ErrCodeNotFoundClient},
		{"db error", errors.New("connection reset"), types.ErrCodeInternalDB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
				Return(&mockRow{scanErr: tt.err})

			_, err := NewClientRepository(db).GetBillingProfile(context.Background(), "cl-x")
			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.want, appErr.Code)
		})
	}
}
