package dns

import (
	"fmt"
)

// skipName walks past an encoded domain name starting at offset and returns
// the offset of the byte that follows it. Compression pointers end the name.
func skipName(msg []byte, offset int) (int, error) {
	for {
		if offset >= len(msg) {
			return offset, fmt.Errorf("offset out of bounds during name parsing")
		}

		length := int(msg[offset])
		offset++

		// Compression pointer (first two bits are '11')
		if length&pointerMask == pointerMask {
			if offset >= len(msg) {
				return offset, fmt.Errorf("compression pointer incomplete")
			}
			return offset + 1, nil
		}

		if length&pointerMask != 0 {
			return offset, fmt.Errorf("unsupported label type 0x%02x", length)
		}

		// End of name
		if length == 0 {
			return offset, nil
		}

		if offset+length > len(msg) {
			return offset, fmt.Errorf("label exceeds message bounds")
		}
		offset += length
	}
}

// splitQuestions locates count questions starting right after the header
func splitQuestions(msg []byte, count int) ([]question, error) {
	questions := make([]question, 0, count)
	offset := headerSize
	for i := 0; i < count; i++ {
		start := offset
		end, err := skipName(msg, offset)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
		if end+4 > len(msg) {
			return nil, fmt.Errorf("question %d: truncated type and class", i)
		}
		offset = end + 4
		questions = append(questions, question{nameOffset: start, end: offset})
	}
	return questions, nil
}
