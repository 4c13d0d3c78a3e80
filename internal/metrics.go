package internal

import "expvar"

var (
	deliveriesTotal  = expvar.NewMap("gitfeed_deliveries_total")
	signatureRejects = expvar.NewInt("gitfeed_signature_rejects_total")
	ignoredTotal     = expvar.NewMap("gitfeed_ignored_total")
	storedTotal      = expvar.NewMap("gitfeed_stored_total")
	storeErrors      = expvar.NewInt("gitfeed_store_errors_total")
	notifyErrors     = expvar.NewInt("gitfeed_notify_errors_total")
)

func IncDelivery(eventName string) {
	deliveriesTotal.Add(eventName, 1)
}

func IncSignatureReject() {
	signatureRejects.Add(1)
}

func IncIgnored(reason string) {
	ignoredTotal.Add(reason, 1)
}

func IncStored(action Action) {
	storedTotal.Add(string(action), 1)
}

func IncStoreError() {
	storeErrors.Add(1)
}

func IncNotifyError() {
	notifyErrors.Add(1)
}
