// Package dynamo holds the DynamoDB plumbing shared by the stores: the
// transactional unit of work, error classification into apperr kinds,
// attribute helpers and pagination cursors.
package dynamo
