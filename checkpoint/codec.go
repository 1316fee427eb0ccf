package checkpoint

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	checkpointIdField = "checkpoint_id"
	offsetsField      = "offsets"
)

func encodeRecord(r record) ([]byte, error) {
	offsets := make(map[string]interface{}, len(r.offsets))
	for queue, offset := range r.offsets {
		offsets[queue] = offset
	}
	s, err := structpb.NewStruct(map[string]interface{}{
		checkpointIdField: r.checkpointId,
		offsetsField:      offsets,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to build checkpoint record")
	}
	return proto.Marshal(s)
}

func decodeRecord(bytes []byte) (record, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(bytes, s); err != nil {
		return record{}, errors.WithMessage(err, "failed to unmarshal checkpoint record")
	}
	r := record{
		checkpointId: int64(s.GetFields()[checkpointIdField].GetNumberValue()),
		offsets:      map[string]string{},
	}
	for queue, value := range s.GetFields()[offsetsField].GetStructValue().GetFields() {
		r.offsets[queue] = value.GetStringValue()
	}
	return r, nil
}
