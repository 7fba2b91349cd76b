package notify

import (
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bankledger/transaction"
)

// Event is the journal entry written for every recorded transaction.
// Money is carried as decimal strings.
type Event struct {
	Id            string `protobuf:"bytes,1,opt,name=id,proto3" json:"id,omitempty"`
	TransactionId int64  `protobuf:"varint,2,opt,name=transaction_id,json=transactionId,proto3" json:"transaction_id,omitempty"`
	FromAccount   int64  `protobuf:"varint,3,opt,name=from_account,json=fromAccount,proto3" json:"from_account,omitempty"`
	ToAccount     int64  `protobuf:"varint,4,opt,name=to_account,json=toAccount,proto3" json:"to_account,omitempty"`
	SenderBal     string `protobuf:"bytes,5,opt,name=sender_bal,json=senderBal,proto3" json:"sender_bal,omitempty"`
	ReceiverBal   string `protobuf:"bytes,6,opt,name=receiver_bal,json=receiverBal,proto3" json:"receiver_bal,omitempty"`
	Amount        string `protobuf:"bytes,7,opt,name=amount,proto3" json:"amount,omitempty"`
	Status        string `protobuf:"bytes,8,opt,name=status,proto3" json:"status,omitempty"`
	UnixNano      int64  `protobuf:"varint,9,opt,name=unix_nano,json=unixNano,proto3" json:"unix_nano,omitempty"`
	Description   string `protobuf:"bytes,10,opt,name=description,proto3" json:"description,omitempty"`
}

func (m *Event) Reset()         { *m = Event{} }
func (m *Event) String() string { return proto.CompactTextString(m) }
func (*Event) ProtoMessage()    {}

// NewEvent describes t with a fresh event id
func NewEvent(t *transaction.Transaction) *Event {
	return &Event{
		Id:            uuid.New().String(),
		TransactionId: t.ID,
		FromAccount:   t.FromAccount,
		ToAccount:     t.ToAccount,
		SenderBal:     t.SenderBal.StringFixed(2),
		ReceiverBal:   t.ReceiverBal.StringFixed(2),
		Amount:        t.Amount.StringFixed(2),
		Status:        string(t.Status),
		UnixNano:      t.CreatedAt.UnixNano(),
		Description:   t.Description,
	}
}

// Transaction rebuilds the ledger row the event was written for
func (m *Event) Transaction() (*transaction.Transaction, error) {
	senderBal, err := decimal.NewFromString(m.SenderBal)
	if err != nil {
		return nil, err
	}
	receiverBal, err := decimal.NewFromString(m.ReceiverBal)
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(m.Amount)
	if err != nil {
		return nil, err
	}

	return &transaction.Transaction{
		ID:          m.TransactionId,
		FromAccount: m.FromAccount,
		ToAccount:   m.ToAccount,
		SenderBal:   senderBal,
		ReceiverBal: receiverBal,
		Amount:      amount,
		Status:      transaction.Status(m.Status),
		CreatedAt:   time.Unix(0, m.UnixNano).UTC(),
		Description: m.Description,
	}, nil
}
