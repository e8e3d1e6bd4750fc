package sources

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeDocumentWrite(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`document.write('1.2.3.4')`:           "1.2.3.4",
		`document.write('1.2.' + '3.4')`:      "1.2.3.4",
		`document.write("12" + "." + "34")`:   "12.34",
		`document.write('a\'b')`:              "a'b",
		``:                                    "",
	}
	for in, want := range cases {
		require.Equal(t, want, decodeDocumentWrite(in), in)
	}
}

func TestDecodeBase64(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1.2.3.4", decodeBase64("MS4yLjMuNA=="))
	// missing padding is tolerated
	require.Equal(t, "1.2.3.4", decodeBase64("MS4yLjMuNA"))
	require.Empty(t, decodeBase64("!!!not base64!!!"))
}

func TestLooseString(t *testing.T) {
	t.Parallel()

	var resp geonodeResponse
	body := `{"data":[{"ip":"1.1.1.1","port":8080},{"ip":"2.2.2.2","port":"1080"}]}`
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.Equal(t, "8080", string(resp.Data[0].Port))
	require.Equal(t, "1080", string(resp.Data[1].Port))
}
