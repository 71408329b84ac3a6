package types

// CloudWatch metric names and dimensions. Components use these constants
// rather than literal strings.
const (
	MetricBillingRunInvoices       = "BillingRunInvoices"
	MetricBillingRunSkipped        = "BillingRunSkipped"
	MetricBillingRunAmount         = "BillingRunAmount"
	MetricInvoicesMaterialized     = "InvoicesMaterialized"
	MetricInvoiceMaterializeFailed = "InvoiceMaterializeFailed"
	MetricNotifierFailure          = "InvoiceNotifierFailure"
	MetricAPILatency               = "APILatency"
	MetricAPIRequests              = "APIRequests"

	DimEndpoint = "Endpoint"
	DimStatus   = "Status"
	DimTrigger  = "Trigger"
	DimNotifier = "Notifier"

	MetricNamespace = "Stowage"
)
