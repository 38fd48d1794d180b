package engine

import (
	"context"
	"fmt"

	"github.com/famledger/famledger/internal/codec"
	"github.com/famledger/famledger/internal/diff"
	"github.com/famledger/famledger/internal/ledger"
	"github.com/famledger/famledger/internal/resolve"
	"github.com/famledger/famledger/internal/store"
)

// planTable builds the unit of work for one CSV table: read the remote
// file, three-way diff against snapshot and local state, resolve, and
// capture the local apply and the merged encoding.
//
// An I/O failure or an undecodable remote file returns an error, which
// the cycle treats as "stale or partial, skip this file and retry next
// trigger". Local data is never touched in that case.
func planTable[T ledger.Record](
	e *Engine,
	ctx context.Context,
	file string,
	kind ledger.Kind,
	bucket string,
	decode func([]byte) ([]T, []*codec.MalformedRecordError, error),
	encode func([]T) ([]byte, error),
	fetchLocal func(context.Context) ([]T, error),
	fetchSnapshot func(context.Context) (map[string]T, error),
	resolver *resolve.Resolver[T],
	upsert func(context.Context, *store.Tx, T) error,
	remove func(context.Context, *store.Tx, string) error,
) (*tablePlan, error) {
	remoteRaw, err := e.readRemote(ctx, file)
	if err != nil {
		return nil, err
	}

	remoteRecords := map[string]T{}
	if remoteRaw != nil {
		records, malformed, err := decode(remoteRaw)
		if err != nil {
			return nil, fmt.Errorf("remote file does not decode: %w", err)
		}
		for _, m := range malformed {
			e.cfg.Logger.Printf("WARNING: %s: %v (row skipped)", file, m)
		}
		for _, rec := range records {
			remoteRecords[rec.RecordID()] = rec
		}
	}

	localList, err := fetchLocal(ctx)
	if err != nil {
		return nil, err
	}
	localRecords := make(map[string]T, len(localList))
	for _, rec := range localList {
		localRecords[rec.RecordID()] = rec
	}

	ancestor, err := fetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	cs := diff.ThreeWay(ancestor, localRecords, remoteRecords)
	result, err := resolver.Resolve(cs)
	if err != nil {
		return nil, err
	}

	merged := result.Records()
	encoded, err := encode(merged)
	if err != nil {
		return nil, err
	}

	snapshot := make([]ledger.Record, len(merged))
	for i, rec := range merged {
		snapshot[i] = rec
	}

	resolutions := result.Resolutions
	apply := func(ctx context.Context, tx *store.Tx) error {
		for _, res := range resolutions {
			switch {
			case res.Action == resolve.ActionDelete:
				if err := remove(ctx, tx, res.ID); err != nil {
					return err
				}
			case res.Record != nil:
				if err := upsert(ctx, tx, *res.Record); err != nil {
					return err
				}
			}
			if res.Reinserted != nil {
				if err := upsert(ctx, tx, *res.Reinserted); err != nil {
					return err
				}
			}
		}
		return nil
	}

	return &tablePlan{
		file:      file,
		kind:      kind,
		bucket:    bucket,
		encoded:   encoded,
		remoteRaw: remoteRaw,
		apply:     apply,
		snapshot:  snapshot,
		conflicts: result.ResolvedConflicts,
	}, nil
}

func (e *Engine) planTransactions(ctx context.Context, bucket string) (*tablePlan, error) {
	return planTable(e, ctx,
		codec.TransactionFile(bucket), ledger.KindTransaction, bucket,
		codec.DecodeTransactions, codec.EncodeTransactions,
		func(ctx context.Context) ([]ledger.Transaction, error) {
			return e.store.ListTransactions(ctx, store.TransactionFilter{Month: bucket})
		},
		func(ctx context.Context) (map[string]ledger.Transaction, error) {
			return e.store.SnapshotTransactions(ctx, bucket)
		},
		resolve.Transactions(e.cfg.Audit),
		func(ctx context.Context, tx *store.Tx, t ledger.Transaction) error {
			return tx.UpsertTransaction(ctx, t)
		},
		func(ctx context.Context, tx *store.Tx, id string) error {
			// Scoped to the bucket: a date edit that moved the record
			// to another month must not be erased by the old bucket.
			return tx.DeleteTransactionInMonth(ctx, id, bucket)
		},
	)
}

func (e *Engine) planMembers(ctx context.Context) (*tablePlan, error) {
	return planTable(e, ctx,
		codec.MembersFile, ledger.KindMember, "",
		codec.DecodeMembers, codec.EncodeMembers,
		e.store.ListMembers,
		func(ctx context.Context) (map[string]ledger.Member, error) {
			return e.store.SnapshotMembers(ctx)
		},
		resolve.Members(e.cfg.Audit),
		func(ctx context.Context, tx *store.Tx, m ledger.Member) error {
			return tx.UpsertMember(ctx, m)
		},
		func(ctx context.Context, tx *store.Tx, id string) error {
			return tx.DeleteMember(ctx, id)
		},
	)
}

func (e *Engine) planCategories(ctx context.Context) (*tablePlan, error) {
	return planTable(e, ctx,
		codec.CategoriesFile, ledger.KindCategory, "",
		codec.DecodeCategories, codec.EncodeCategories,
		e.store.ListCategories,
		func(ctx context.Context) (map[string]ledger.Category, error) {
			return e.store.SnapshotCategories(ctx)
		},
		resolve.Categories(e.cfg.Audit),
		func(ctx context.Context, tx *store.Tx, c ledger.Category) error {
			return tx.UpsertCategory(ctx, c)
		},
		func(ctx context.Context, tx *store.Tx, id string) error {
			return tx.DeleteCategory(ctx, id)
		},
	)
}

// planSettings merges the single settings document at whole-document
// granularity: the later UpdatedAt wins.
func (e *Engine) planSettings(ctx context.Context) (*tablePlan, error) {
	remoteRaw, err := e.readRemote(ctx, codec.SettingsFile)
	if err != nil {
		return nil, err
	}

	remoteSettings, err := codec.DecodeSettings(remoteRaw)
	if err != nil {
		return nil, fmt.Errorf("remote settings do not decode: %w", err)
	}

	localSettings, err := e.store.Settings(ctx)
	if err != nil {
		return nil, err
	}

	merged := localSettings
	if remoteSettings.UpdatedAt.After(localSettings.UpdatedAt) {
		merged = remoteSettings
	}

	encoded, err := codec.EncodeSettings(merged)
	if err != nil {
		return nil, err
	}

	return &tablePlan{
		file:      codec.SettingsFile,
		encoded:   encoded,
		remoteRaw: remoteRaw,
		apply: func(ctx context.Context, tx *store.Tx) error {
			return tx.SaveSettings(ctx, merged)
		},
	}, nil
}
