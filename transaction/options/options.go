package options

// TransactionOptions represent options that can be used to configure a Find operation
type TransactionOptions struct {
	// filters transactions that match any id in this slice
	IDs []int64
	// filters transactions sent or received by any of these accounts
	Accounts []int64
	// filters transactions sent by any of these accounts
	FromAccounts []int64
	// filters transactions received by any of these accounts
	ToAccounts []int64
	// filters transactions with any of these statuses
	Statuses []string
	// filters transactions that have an amount in this range (inclusive)
	Amount *DecimalRange
	// filters transactions that were created in this range (inclusive)
	Timestamp *TimeRange
	// newest first when set
	Descending bool
	// caps the number of rows returned, 0 means no limit
	Limit int
}

func NewTransactionOptions() *TransactionOptions {
	return &TransactionOptions{}
}

func (this *TransactionOptions) SetIDs(v ...int64) *TransactionOptions {
	this.IDs = v
	return this
}

func (this *TransactionOptions) SetAccounts(v ...int64) *TransactionOptions {
	this.Accounts = v
	return this
}

func (this *TransactionOptions) SetFromAccounts(v ...int64) *TransactionOptions {
	this.FromAccounts = v
	return this
}

func (this *TransactionOptions) SetToAccounts(v ...int64) *TransactionOptions {
	this.ToAccounts = v
	return this
}

func (this *TransactionOptions) SetStatuses(v ...string) *TransactionOptions {
	this.Statuses = v
	return this
}

func (this *TransactionOptions) SetAmountRange(v *DecimalRange) *TransactionOptions {
	this.Amount = v
	return this
}

func (this *TransactionOptions) SetTimeRange(v *TimeRange) *TransactionOptions {
	this.Timestamp = v
	return this
}

func (this *TransactionOptions) SetDescending(v bool) *TransactionOptions {
	this.Descending = v
	return this
}

func (this *TransactionOptions) SetLimit(v int) *TransactionOptions {
	this.Limit = v
	return this
}
