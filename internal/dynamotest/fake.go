// Package dynamotest provides an in-memory DynamoDB for tests. It implements
// aws.DynamoDBAdminAPI and evaluates the condition, key-condition, filter and
// update expression subset used by this repository, including transaction
// cancellation reasons with ALL_OLD images.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Item is one stored document.
type Item = map[string]types.AttributeValue

type index struct {
	hashKey, rangeKey string
}

type table struct {
	hashKey, rangeKey string
	indexes           map[string]index
	items             map[string]Item
}

// Fake is a concurrency-safe in-memory DynamoDB.
type Fake struct {
	mu     sync.Mutex
	tables map[string]*table

	transactErrs []error
	calls        map[string]int
}

// New returns an empty Fake with no tables.
func New() *Fake {
	return &Fake{tables: map[string]*table{}, calls: map[string]int{}}
}

// AddTable registers a table keyed by hashKey (and optional rangeKey).
func (f *Fake) AddTable(name, hashKey, rangeKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[name]; ok {
		return
	}
	f.tables[name] = &table{hashKey: hashKey, rangeKey: rangeKey, indexes: map[string]index{}, items: map[string]Item{}}
}

// AddIndex registers a global secondary index on an existing table.
func (f *Fake) AddIndex(tableName, indexName, hashKey, rangeKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[tableName].indexes[indexName] = index{hashKey: hashKey, rangeKey: rangeKey}
}

// FailNextTransact makes the next len(errs) TransactWriteItems calls return errs in order.
func (f *Fake) FailNextTransact(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactErrs = append(f.transactErrs, errs...)
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Items returns a snapshot of every item in a table.
func (f *Fake) Items(tableName string) []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableName]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Item, 0, len(keys))
	for _, k := range keys {
		out = append(out, cloneItem(t.items[k]))
	}
	return out
}

// Raw returns the stored item for a single-attribute key, or nil.
func (f *Fake) Raw(tableName, keyValue string) Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableName]
	if !ok {
		return nil
	}
	if it, ok := t.items[keyValue]; ok {
		return cloneItem(it)
	}
	return nil
}

func validationErr(format string, args ...any) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: fmt.Sprintf(format, args...), Fault: smithy.FaultClient}
}

func (f *Fake) table(name *string) (*table, error) {
	if name == nil {
		return nil, validationErr("missing table name")
	}
	t, ok := f.tables[*name]
	if !ok {
		msg := "Requested resource not found: " + *name
		return nil, &types.ResourceNotFoundException{Message: &msg}
	}
	return t, nil
}

func keyString(t *table, item Item) (string, error) {
	h, ok := item[t.hashKey]
	if !ok {
		return "", validationErr("missing key attribute %s", t.hashKey)
	}
	k := scalar(h)
	if t.rangeKey != "" {
		r, ok := item[t.rangeKey]
		if !ok {
			return "", validationErr("missing key attribute %s", t.rangeKey)
		}
		k += "|" + scalar(r)
	}
	return k, nil
}

func scalar(v types.AttributeValue) string {
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		return tv.Value
	case *types.AttributeValueMemberN:
		return tv.Value
	}
	return fmt.Sprintf("%v", v)
}

func (f *Fake) count(op string) { f.calls[op]++ }

// GetItem implements aws.DynamoDBAPI.
func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetItem")
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := keyString(t, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := t.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: cloneItem(it)}, nil
}

// PutItem implements aws.DynamoDBAPI.
func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("PutItem")
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := keyString(t, in.Item)
	if err != nil {
		return nil, err
	}
	old := t.items[k]
	if in.ConditionExpression != nil {
		ok, err := evalCondition(*in.ConditionExpression, orEmpty(old), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, validationErr("%v", err)
		}
		if !ok {
			return nil, conditionFailed(old, in.ReturnValuesOnConditionCheckFailure)
		}
	}
	t.items[k] = cloneItem(in.Item)
	out := &dyn.PutItemOutput{}
	if in.ReturnValues == types.ReturnValueAllOld && old != nil {
		out.Attributes = cloneItem(old)
	}
	return out, nil
}

// UpdateItem implements aws.DynamoDBAPI.
func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("UpdateItem")
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	newItem, k, old, err := f.evalUpdate(t, in.Key, in.UpdateExpression, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		if errors.Is(err, errConditionFailed) {
			return nil, conditionFailed(old, in.ReturnValuesOnConditionCheckFailure)
		}
		return nil, err
	}
	t.items[k] = newItem
	out := &dyn.UpdateItemOutput{}
	switch in.ReturnValues {
	case types.ReturnValueAllNew, types.ReturnValueUpdatedNew:
		out.Attributes = cloneItem(newItem)
	case types.ReturnValueAllOld, types.ReturnValueUpdatedOld:
		if old != nil {
			out.Attributes = cloneItem(old)
		}
	}
	return out, nil
}

var errConditionFailed = errors.New("condition failed")

func (f *Fake) evalUpdate(t *table, key Item, update, cond *string, names map[string]string, values map[string]types.AttributeValue) (Item, string, Item, error) {
	k, err := keyString(t, key)
	if err != nil {
		return nil, "", nil, err
	}
	old := t.items[k]
	if cond != nil {
		ok, err := evalCondition(*cond, orEmpty(old), names, values)
		if err != nil {
			return nil, "", old, validationErr("%v", err)
		}
		if !ok {
			return nil, "", old, errConditionFailed
		}
	}
	base := old
	if base == nil {
		base = cloneItem(key)
	}
	if update == nil {
		return cloneItem(base), k, old, nil
	}
	newItem, err := applyUpdate(*update, base, names, values)
	if err != nil {
		return nil, "", old, validationErr("%v", err)
	}
	return newItem, k, old, nil
}

func conditionFailed(old Item, rv types.ReturnValuesOnConditionCheckFailure) error {
	msg := "The conditional request failed"
	e := &types.ConditionalCheckFailedException{Message: &msg}
	if rv == types.ReturnValuesOnConditionCheckFailureAllOld && old != nil {
		e.Item = cloneItem(old)
	}
	return e
}

func orEmpty(it Item) Item {
	if it == nil {
		return Item{}
	}
	return it
}

// Query implements aws.DynamoDBAPI for table and GSI queries.
// Limit is applied before the filter expression, as DynamoDB does.
func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, _ ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("Query")
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	idx := index{hashKey: t.hashKey, rangeKey: t.rangeKey}
	if in.IndexName != nil {
		var ok bool
		if idx, ok = t.indexes[*in.IndexName]; !ok {
			return nil, validationErr("unknown index %s", *in.IndexName)
		}
	}
	if in.KeyConditionExpression == nil {
		return nil, validationErr("missing key condition")
	}

	var matched []Item
	for _, it := range t.items {
		if _, ok := it[idx.hashKey]; !ok {
			continue
		}
		if idx.rangeKey != "" {
			if _, ok := it[idx.rangeKey]; !ok {
				continue
			}
		}
		ok, err := evalCondition(*in.KeyConditionExpression, it, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, validationErr("%v", err)
		}
		if ok {
			matched = append(matched, it)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if idx.rangeKey != "" {
			if c := compareScalar(a[idx.rangeKey], b[idx.rangeKey]); c != 0 {
				return c < 0
			}
		}
		ka, _ := keyString(t, a)
		kb, _ := keyString(t, b)
		return ka < kb
	})
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	start := 0
	if len(in.ExclusiveStartKey) > 0 {
		startKey, err := keyString(t, in.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		for i, it := range matched {
			if k, _ := keyString(t, it); k == startKey {
				start = i + 1
				break
			}
		}
	}
	matched = matched[start:]

	out := &dyn.QueryOutput{}
	if in.Limit != nil && int(*in.Limit) < len(matched) {
		matched = matched[:*in.Limit]
		last := matched[len(matched)-1]
		lek := Item{t.hashKey: last[t.hashKey]}
		if t.rangeKey != "" {
			lek[t.rangeKey] = last[t.rangeKey]
		}
		lek[idx.hashKey] = last[idx.hashKey]
		if idx.rangeKey != "" {
			lek[idx.rangeKey] = last[idx.rangeKey]
		}
		out.LastEvaluatedKey = lek
	}
	out.ScannedCount = int32(len(matched))

	for _, it := range matched {
		if in.FilterExpression != nil {
			ok, err := evalCondition(*in.FilterExpression, it, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
			if err != nil {
				return nil, validationErr("%v", err)
			}
			if !ok {
				continue
			}
		}
		out.Items = append(out.Items, cloneItem(it))
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func compareScalar(a, b types.AttributeValue) int {
	an, ok1 := a.(*types.AttributeValueMemberN)
	bn, ok2 := b.(*types.AttributeValueMemberN)
	if ok1 && ok2 {
		x, err1 := parseNumber(an.Value)
		y, err2 := parseNumber(bn.Value)
		if err1 == nil && err2 == nil {
			return x.Cmp(y)
		}
	}
	return strings.Compare(scalar(a), scalar(b))
}

type pendingWrite struct {
	t      *table
	key    string
	item   Item
	delete bool
}

// TransactWriteItems implements aws.DynamoDBAPI. Conditions are checked for
// every action before any write is applied.
func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("TransactWriteItems")
	if len(f.transactErrs) > 0 {
		err := f.transactErrs[0]
		f.transactErrs = f.transactErrs[1:]
		return nil, err
	}
	if len(in.TransactItems) > 100 {
		return nil, validationErr("too many transact items: %d", len(in.TransactItems))
	}

	seen := map[string]bool{}
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	var writes []pendingWrite
	failed := false

	for i, ti := range in.TransactItems {
		var (
			t      *table
			key    string
			old    Item
			ok     = true
			rv     types.ReturnValuesOnConditionCheckFailure
			err    error
			w      *pendingWrite
			target string
		)
		switch {
		case ti.Put != nil:
			p := ti.Put
			if t, err = f.table(p.TableName); err != nil {
				return nil, err
			}
			if key, err = keyString(t, p.Item); err != nil {
				return nil, err
			}
			old = t.items[key]
			rv = p.ReturnValuesOnConditionCheckFailure
			if p.ConditionExpression != nil {
				if ok, err = evalCondition(*p.ConditionExpression, orEmpty(old), p.ExpressionAttributeNames, p.ExpressionAttributeValues); err != nil {
					return nil, validationErr("%v", err)
				}
			}
			w = &pendingWrite{t: t, key: key, item: cloneItem(p.Item)}
			target = *p.TableName + "/" + key
		case ti.Update != nil:
			u := ti.Update
			if t, err = f.table(u.TableName); err != nil {
				return nil, err
			}
			rv = u.ReturnValuesOnConditionCheckFailure
			var newItem Item
			newItem, key, old, err = f.evalUpdate(t, u.Key, u.UpdateExpression, u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues)
			switch {
			case errors.Is(err, errConditionFailed):
				ok = false
				key, _ = keyString(t, u.Key)
			case err != nil:
				return nil, err
			default:
				w = &pendingWrite{t: t, key: key, item: newItem}
			}
			target = *u.TableName + "/" + key
		case ti.ConditionCheck != nil:
			c := ti.ConditionCheck
			if t, err = f.table(c.TableName); err != nil {
				return nil, err
			}
			if key, err = keyString(t, c.Key); err != nil {
				return nil, err
			}
			old = t.items[key]
			rv = c.ReturnValuesOnConditionCheckFailure
			if ok, err = evalCondition(*c.ConditionExpression, orEmpty(old), c.ExpressionAttributeNames, c.ExpressionAttributeValues); err != nil {
				return nil, validationErr("%v", err)
			}
			target = *c.TableName + "/" + key
		case ti.Delete != nil:
			d := ti.Delete
			if t, err = f.table(d.TableName); err != nil {
				return nil, err
			}
			if key, err = keyString(t, d.Key); err != nil {
				return nil, err
			}
			old = t.items[key]
			rv = d.ReturnValuesOnConditionCheckFailure
			if d.ConditionExpression != nil {
				if ok, err = evalCondition(*d.ConditionExpression, orEmpty(old), d.ExpressionAttributeNames, d.ExpressionAttributeValues); err != nil {
					return nil, validationErr("%v", err)
				}
			}
			w = &pendingWrite{t: t, key: key, delete: true}
			target = *d.TableName + "/" + key
		default:
			return nil, validationErr("empty transact item %d", i)
		}

		if seen[target] {
			return nil, validationErr("Transaction request cannot include multiple operations on one item")
		}
		seen[target] = true

		none := "None"
		reasons[i] = types.CancellationReason{Code: &none}
		if !ok {
			failed = true
			code := "ConditionalCheckFailed"
			msg := "The conditional request failed"
			reasons[i] = types.CancellationReason{Code: &code, Message: &msg}
			if rv == types.ReturnValuesOnConditionCheckFailureAllOld && old != nil {
				reasons[i].Item = cloneItem(old)
			}
			continue
		}
		if w != nil {
			writes = append(writes, *w)
		}
	}

	if failed {
		msg := "Transaction cancelled, please refer cancellation reasons for specific reasons"
		return nil, &types.TransactionCanceledException{Message: &msg, CancellationReasons: reasons}
	}
	for _, w := range writes {
		if w.delete {
			delete(w.t.items, w.key)
			continue
		}
		w.t.items[w.key] = w.item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// CreateTable implements aws.DynamoDBAdminAPI using the key schema and GSIs.
func (f *Fake) CreateTable(ctx context.Context, in *dyn.CreateTableInput, _ ...func(*dyn.Options)) (*dyn.CreateTableOutput, error) {
	f.mu.Lock()
	f.count("CreateTable")
	if _, exists := f.tables[*in.TableName]; exists {
		f.mu.Unlock()
		msg := "Table already exists: " + *in.TableName
		return nil, &types.ResourceInUseException{Message: &msg}
	}
	f.mu.Unlock()

	hash, rng := keySchema(in.KeySchema)
	f.AddTable(*in.TableName, hash, rng)
	for _, gsi := range in.GlobalSecondaryIndexes {
		h, r := keySchema(gsi.KeySchema)
		f.AddIndex(*in.TableName, *gsi.IndexName, h, r)
	}
	return &dyn.CreateTableOutput{TableDescription: &types.TableDescription{TableName: in.TableName}}, nil
}

// UpdateTimeToLive implements aws.DynamoDBAdminAPI. Expiry is not simulated.
func (f *Fake) UpdateTimeToLive(ctx context.Context, in *dyn.UpdateTimeToLiveInput, _ ...func(*dyn.Options)) (*dyn.UpdateTimeToLiveOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("UpdateTimeToLive")
	return &dyn.UpdateTimeToLiveOutput{TimeToLiveSpecification: in.TimeToLiveSpecification}, nil
}

func keySchema(ks []types.KeySchemaElement) (hash, rng string) {
	for _, k := range ks {
		switch k.KeyType {
		case types.KeyTypeHash:
			hash = *k.AttributeName
		case types.KeyTypeRange:
			rng = *k.AttributeName
		}
	}
	return hash, rng
}
