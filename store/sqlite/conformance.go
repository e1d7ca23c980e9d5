package sqlite

import (
	"github.com/forgefit/coin-engine/booking"
	"github.com/forgefit/coin-engine/config"
	"github.com/forgefit/coin-engine/exchange"
	"github.com/forgefit/coin-engine/ledger"
	"github.com/forgefit/coin-engine/recurring"
)

// Interface conformance.
var (
	_ ledger.EntryStore       = (*Store)(nil)
	_ ledger.TransactionLog   = (*Store)(nil)
	_ booking.Store           = (*Store)(nil)
	_ booking.ReferenceStore  = (*Store)(nil)
	_ booking.Directory       = (*Store)(nil)
	_ recurring.TemplateStore = (*Store)(nil)
	_ recurring.ExpansionLog  = (*Store)(nil)
	_ exchange.Store          = (*Store)(nil)
	_ config.SettingsStore    = (*Store)(nil)
)
