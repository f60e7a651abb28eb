package kmessage

import "reflect"

// typeKeyOf returns a comparable key identifying value's type, used to
// index the metadata map by type the way MetadataOf/WithMetadata expect.
func typeKeyOf(value any) reflect.Type {
	return reflect.TypeOf(value)
}
