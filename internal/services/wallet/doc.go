/*
Package wallet is the ledger engine. It owns every balance mutation and the
transaction rows that explain them.

Each mutation follows the same path: take the wallet lock(s) through the
lock manager, open one database transaction, apply a conditional balance
update and write or transition the transaction rows, then commit.
Notifications are queued only after commit.

Operations:

	// In-app transfer by recipient handle; two completed rows, one unit of work.
	res, err := svc.Transfer(ctx, wallet.TransferRequest{SenderID: 1, RecipientHandle: "ada", AmountMinor: 1000})

	// Airtime or data. The balance is debited only once the provider confirms.
	tx, err := svc.Purchase(ctx, wallet.PurchaseRequest{UserID: 1, Kind: vtu.KindAirtime, Network: "mtn", Phone: "0803...", AmountMinor: 50000})

	// Gateway credit keyed by (provider, reference); replays return ErrDuplicateEvent.
	tx, err := svc.CreditFromProvider(ctx, credit)

	// Admin reconciliation.
	tx, err = svc.ReconcilePurchase(ctx, id)
	tx, err = svc.Refund(ctx, id)
	tx, err = svc.Cancel(ctx, id)

	// Recompute the balance from completed rows.
	report, err := svc.AuditBalance(ctx, ownerID)

Purchases whose provider outcome is unknown (timeout, 5xx) stay pending and
are settled later by ReconcilePurchase or the ReconcileStale sweep.

Errors are the domain errors from internal/errors.
*/
package wallet
