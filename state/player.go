package state

// Motion 客户端上报的运动/动画/相机字段（playerUpdate 载荷）
// 服务端不做范围校验：信任客户端的运动学计算结果
type Motion struct {
	X         float64 `json:"x" msgpack:"x"`
	Y         float64 `json:"y" msgpack:"y"`
	Z         float64 `json:"z" msgpack:"z"`
	RotationY float64 `json:"rotationY" msgpack:"rotationY"`

	VelocityX float64 `json:"velocityX" msgpack:"velocityX"`
	VelocityY float64 `json:"velocityY" msgpack:"velocityY"`
	VelocityZ float64 `json:"velocityZ" msgpack:"velocityZ"`

	AnimInputX float64 `json:"animInputX" msgpack:"animInputX" jsonschema:"minimum=-1,maximum=1"`
	AnimInputY float64 `json:"animInputY" msgpack:"animInputY" jsonschema:"minimum=-1,maximum=1"`
	IsGrounded bool    `json:"isGrounded" msgpack:"isGrounded"`
	IsJumping  bool    `json:"isJumping" msgpack:"isJumping"`

	CameraRotationX float64 `json:"cameraRotationX" msgpack:"cameraRotationX"`
	CameraRotationY float64 `json:"cameraRotationY" msgpack:"cameraRotationY"`
}

// Player 复制实体：每个已加入会话在房间内唯一的一条权威记录
type Player struct {
	Motion

	SessionID string `json:"sessionId" msgpack:"sessionId"`
	Timestamp int64  `json:"timestamp" msgpack:"timestamp" jsonschema:"description=Server tick time in ms of the last motion update"`
	IsReady   bool   `json:"isReady" msgpack:"isReady"`
	SkinIndex int    `json:"skinIndex" msgpack:"skinIndex"`
}

// NewPlayer 以默认值创建实体（落地状态为 true，与客户端动画机初始一致）
func NewPlayer(sessionID string) *Player {
	return &Player{
		Motion:    Motion{IsGrounded: true},
		SessionID: sessionID,
	}
}

// Field 可复制字段名，与线上字段名一致
type Field string

const (
	FieldX               Field = "x"
	FieldY               Field = "y"
	FieldZ               Field = "z"
	FieldRotationY       Field = "rotationY"
	FieldVelocityX       Field = "velocityX"
	FieldVelocityY       Field = "velocityY"
	FieldVelocityZ       Field = "velocityZ"
	FieldAnimInputX      Field = "animInputX"
	FieldAnimInputY      Field = "animInputY"
	FieldIsGrounded      Field = "isGrounded"
	FieldIsJumping       Field = "isJumping"
	FieldCameraRotationX Field = "cameraRotationX"
	FieldCameraRotationY Field = "cameraRotationY"
	FieldTimestamp       Field = "timestamp"
	FieldIsReady         Field = "isReady"
	FieldSkinIndex       Field = "skinIndex"
)

// Fields 固定顺序的字段表；SessionID 创建后不可变，不参与 patch
var Fields = []Field{
	FieldX, FieldY, FieldZ, FieldRotationY,
	FieldVelocityX, FieldVelocityY, FieldVelocityZ,
	FieldAnimInputX, FieldAnimInputY, FieldIsGrounded, FieldIsJumping,
	FieldCameraRotationX, FieldCameraRotationY,
	FieldTimestamp, FieldIsReady, FieldSkinIndex,
}

// Get 读取字段值
func (p *Player) Get(f Field) any {
	switch f {
	case FieldX:
		return p.X
	case FieldY:
		return p.Y
	case FieldZ:
		return p.Z
	case FieldRotationY:
		return p.RotationY
	case FieldVelocityX:
		return p.VelocityX
	case FieldVelocityY:
		return p.VelocityY
	case FieldVelocityZ:
		return p.VelocityZ
	case FieldAnimInputX:
		return p.AnimInputX
	case FieldAnimInputY:
		return p.AnimInputY
	case FieldIsGrounded:
		return p.IsGrounded
	case FieldIsJumping:
		return p.IsJumping
	case FieldCameraRotationX:
		return p.CameraRotationX
	case FieldCameraRotationY:
		return p.CameraRotationY
	case FieldTimestamp:
		return p.Timestamp
	case FieldIsReady:
		return p.IsReady
	case FieldSkinIndex:
		return p.SkinIndex
	}
	return nil
}

// Set 写入字段值。解码后的数值类型因编解码器而异（JSON 为 float64，msgpack 可能是各类整数），
// 这里统一做转换；类型不符时返回 false 且不修改
func (p *Player) Set(f Field, v any) bool {
	switch f {
	case FieldIsGrounded, FieldIsJumping, FieldIsReady:
		b, ok := v.(bool)
		if !ok {
			return false
		}
		switch f {
		case FieldIsGrounded:
			p.IsGrounded = b
		case FieldIsJumping:
			p.IsJumping = b
		default:
			p.IsReady = b
		}
		return true
	}

	n, ok := toFloat(v)
	if !ok {
		return false
	}
	switch f {
	case FieldX:
		p.X = n
	case FieldY:
		p.Y = n
	case FieldZ:
		p.Z = n
	case FieldRotationY:
		p.RotationY = n
	case FieldVelocityX:
		p.VelocityX = n
	case FieldVelocityY:
		p.VelocityY = n
	case FieldVelocityZ:
		p.VelocityZ = n
	case FieldAnimInputX:
		p.AnimInputX = n
	case FieldAnimInputY:
		p.AnimInputY = n
	case FieldCameraRotationX:
		p.CameraRotationX = n
	case FieldCameraRotationY:
		p.CameraRotationY = n
	case FieldTimestamp:
		p.Timestamp = int64(n)
	case FieldSkinIndex:
		p.SkinIndex = int(n)
	default:
		return false
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
