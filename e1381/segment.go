package e1381

// StandardMaxFramePayload is the largest frame text allowed by E1381:
// 247 characters per frame minus the 7 framing characters.
const StandardMaxFramePayload = 240

// Segmenter splits an outbound message into frames and assigns frame numbers.
type Segmenter struct {
	// MaxPayload is the largest payload per frame. Zero or negative means
	// unlimited: the whole message travels in one ETX frame.
	MaxPayload int

	// StartNumber is the number of the first frame of every message.
	StartNumber int

	// FixedNumber keeps every frame at StartNumber instead of incrementing
	// modulo 8.
	FixedNumber bool

	// FramePerRecord sends every record as its own frame sequence.
	FramePerRecord bool
}

// Segment splits msg into frames following the segmenter policy.
//
// Frame numbers start at StartNumber and increment modulo 8 across all
// frames of the message. Every chunk but the last of a sequence is
// terminated by ETB, the last by ETX. An empty message yields a single
// empty ETX frame.
func (sg Segmenter) Segment(msg Message) []*Frame {
	var parts [][]byte
	if sg.FramePerRecord {
		for _, rec := range msg.Records() {
			parts = append(parts, []byte(rec))
		}
	}

	if len(parts) == 0 {
		parts = [][]byte{msg}
	}

	frames := make([]*Frame, 0, len(parts))
	number := sg.StartNumber & MaxFrameNumber

	for _, part := range parts {
		for _, chunk := range chunkPayload(part, sg.MaxPayload) {
			frames = append(frames, &Frame{Number: number, Payload: chunk, Terminator: ETB})
			if !sg.FixedNumber {
				number = (number + 1) & MaxFrameNumber
			}
		}
		frames[len(frames)-1].Terminator = ETX
	}

	return frames
}

// Segment splits msg into frames of at most maxPayload bytes numbered from
// start, incrementing modulo 8.
func Segment(msg Message, maxPayload int, start int) []*Frame {
	return Segmenter{MaxPayload: maxPayload, StartNumber: start}.Segment(msg)
}

func chunkPayload(data []byte, max int) [][]byte {
	if max <= 0 || len(data) <= max {
		return [][]byte{data}
	}

	chunks := make([][]byte, 0, (len(data)+max-1)/max)
	for len(data) > max {
		chunks = append(chunks, data[:max])
		data = data[max:]
	}

	return append(chunks, data)
}
