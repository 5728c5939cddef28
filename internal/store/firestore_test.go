package store

import (
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"

	"github.com/example/driver-dispatch/internal/models"
)

func TestToFirestoreTranslatesSentinels(t *testing.T) {
	got := toFirestore([]Update{
		{Field: models.FieldAssignmentStatus, Value: models.AssignmentSearching},
		{Field: models.FieldRejectedByDrivers, Value: ArrayUnion("d1", "d2")},
		{Field: models.FieldOfferedDriverIDs, Value: Delete},
		{Field: models.FieldUpdatedAt, Value: ServerTimestamp},
	})

	assert.Equal(t, []firestore.Update{
		{Path: models.FieldAssignmentStatus, Value: "searching"},
		{Path: models.FieldRejectedByDrivers, Value: firestore.ArrayUnion("d1", "d2")},
		{Path: models.FieldOfferedDriverIDs, Value: firestore.Delete},
		{Path: models.FieldUpdatedAt, Value: firestore.ServerTimestamp},
	}, got)
}
