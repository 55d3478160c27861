package renewal

import (
	"certhub/internal/model"
)

// FailoverThreshold is the number of consecutive failures after which the
// selector starts considering alternate CAs.
const FailoverThreshold = 3

// SelectCAWithFailover picks the account to use for the next renewal attempt.
//
// While a certificate is healthy (or below the failure threshold) the default
// account is returned unchanged. Once the failure count reaches the
// threshold, the selector walks the CA catalog in stable order and returns an
// account for the first enabled CA that supports every feature the request
// needs, excluding the preferred CA, the CA attempted last and every CA in
// the certificate's own failover history. Among equally capable CAs, the one
// with the fewest surplus features wins, so a CA supporting exactly the
// needed features beats one advertising every flag.
//
// The function is deterministic and idempotent: identical inputs always yield
// the same account, and repeated failures walk forward through the candidate
// list because each failed failover attempt is recorded on the certificate.
// The walk state lives entirely on the certificate record; accounts are
// shared and carry no selection state.
func SelectCAWithFailover(catalog []model.CertificateAuthority, accounts []model.AcmeAccount, cert *model.ManagedCertificate, defaultAccount *model.AcmeAccount) *model.AcmeAccount {
	if cert.LastRenewalStatus != model.RenewalStatusError || cert.RenewalFailureCount < FailoverThreshold {
		return defaultAccount
	}

	cfg, err := cert.GetRequestConfig()
	if err != nil {
		// A certificate without a decodable config cannot be matched against
		// CA features; keep the default account and let the attempt fail with
		// a concrete message.
		return defaultAccount
	}
	required := cfg.RequiredFeatures()

	var (
		best        *model.AcmeAccount
		bestSurplus int
	)

	for i := range catalog {
		ca := &catalog[i]

		if !ca.Enabled {
			continue
		}
		// Never fail over back to the CA that is already failing, to the one
		// attempted last, or to one this certificate already walked through.
		if ca.ID == cert.CertificateAuthorityID || ca.ID == cert.LastAttemptedCA {
			continue
		}
		if cert.HasAttemptedFailoverCA(ca.ID) {
			continue
		}
		if !ca.Supports(required) {
			continue
		}

		account := usableAccount(accounts, ca.ID, cert.UseStagingMode)
		if account == nil {
			continue
		}

		surplus := len(ca.SupportedFeatures) - len(required)
		if best == nil || surplus < bestSurplus {
			selected := *account
			selected.IsFailoverSelection = true
			best = &selected
			bestSurplus = surplus
		}
	}

	if best == nil {
		// No failover possible; the renewal keeps trying the default account
		// until an operator intervenes.
		return defaultAccount
	}

	return best
}

// usableAccount finds the first account usable for the given CA and
// environment. Account order is stable (as loaded from the store).
func usableAccount(accounts []model.AcmeAccount, caID string, staging bool) *model.AcmeAccount {
	for i := range accounts {
		if accounts[i].UsableFor(caID, staging) {
			return &accounts[i]
		}
	}
	return nil
}
